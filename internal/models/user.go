package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Member is the minimal profile the messaging core needs: who someone is and
// what to call them. Profile management lives outside this service.
type Member struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	DisplayName string    `gorm:"type:text;not null" json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BeforeCreate: хук GORM, генерує UUID, якщо ID ще не встановлено.
func (m *Member) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}
