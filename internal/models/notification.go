package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type NotificationType string

const (
	NotificationChat        NotificationType = "CHAT"
	NotificationChatRequest NotificationType = "CHAT_REQUEST"
	NotificationSystem      NotificationType = "SYSTEM"
)

var ErrUnknownNotificationType = errors.New("unknown notification type")

// Notification is a durable record of something a member should be told about.
// DeliveredAt stays nil until a push to the member's stream succeeded.
type Notification struct {
	ID          string           `gorm:"type:uuid;primaryKey" json:"id"`
	ReceiverID  string           `gorm:"type:text;not null;index:idx_receiver_delivered,priority:1" json:"receiverId"`
	Type        NotificationType `gorm:"type:text;not null" json:"type"`
	Payload     datatypes.JSON   `gorm:"not null" json:"payload"`
	CreatedAt   time.Time        `gorm:"not null;index" json:"createdAt"`
	DeliveredAt *time.Time       `gorm:"index:idx_receiver_delivered,priority:2" json:"deliveredAt,omitempty"`
	ReadAt      *time.Time       `json:"readAt,omitempty"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return
}

func (n *Notification) IsDelivered() bool { return n.DeliveredAt != nil }
func (n *Notification) IsRead() bool      { return n.ReadAt != nil }

// NewNotification builds an unsaved notification for receiverID carrying p.
func NewNotification(receiverID string, p NotificationPayload) (*Notification, error) {
	raw, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	n := &Notification{
		ReceiverID: receiverID,
		Type:       p.Kind(),
		Payload:    raw,
	}
	// hook is also called by gorm on insert; here it gives unsaved records an id
	_ = n.BeforeCreate(nil)
	return n, nil
}

// Decoded returns the typed payload.
func (n *Notification) Decoded() (NotificationPayload, error) {
	return DecodePayload(n.Type, n.Payload)
}

// NotificationPayload is the closed set of notification bodies.
type NotificationPayload interface {
	Kind() NotificationType
}

type ChatPayload struct {
	RoomToken  string `json:"roomToken"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	MessageID  string `json:"messageId"`
	Preview    string `json:"preview"`
}

func (ChatPayload) Kind() NotificationType { return NotificationChat }

type ChatRequestPayload struct {
	RoomToken     string `json:"roomToken"`
	RequesterID   string `json:"requesterId"`
	RequesterName string `json:"requesterName"`
	Message       string `json:"message"`
}

func (ChatRequestPayload) Kind() NotificationType { return NotificationChatRequest }

type SystemPayload struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}

func (SystemPayload) Kind() NotificationType { return NotificationSystem }

func EncodePayload(p NotificationPayload) (datatypes.JSON, error) {
	switch p.(type) {
	case ChatPayload, ChatRequestPayload, SystemPayload,
		*ChatPayload, *ChatRequestPayload, *SystemPayload:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownNotificationType, p)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Kind(), err)
	}
	return datatypes.JSON(b), nil
}

func DecodePayload(t NotificationType, raw []byte) (NotificationPayload, error) {
	var (
		p   NotificationPayload
		err error
	)
	switch t {
	case NotificationChat:
		var v ChatPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case NotificationChatRequest:
		var v ChatRequestPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case NotificationSystem:
		var v SystemPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNotificationType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}
