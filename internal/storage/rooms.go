package storage

import (
	"context"
	"fmt"
	"time"

	"talkback/backend/internal/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// CreateRoom зберігає кімнату разом з учасниками в одній транзакції.
func (s *Service) CreateRoom(ctx context.Context, room *models.ChatRoom, members []models.RoomMember) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(room.Participants) == 0 {
			for _, m := range members {
				room.Participants = append(room.Participants, m.MemberID)
			}
		}
		if err := tx.Create(room).Error; err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		for i := range members {
			members[i].RoomID = room.ID
		}
		if len(members) > 0 {
			if err := tx.Create(&members).Error; err != nil {
				return fmt.Errorf("create members of room %s: %w", room.Token, err)
			}
		}
		return nil
	})
}

func (s *Service) RoomByToken(ctx context.Context, token string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	if err := s.DB.WithContext(ctx).Where("token = ?", token).First(&room).Error; err != nil {
		return nil, notFound(err, "room %s", token)
	}
	return &room, nil
}

// RoomBetween finds the room whose participants include both a and b.
func (s *Service) RoomBetween(ctx context.Context, a, b string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.WithContext(ctx).
		Where("participants @> ?", pq.Array([]string{a, b})).
		Order("created_at ASC").
		First(&room).Error
	if err != nil {
		return nil, notFound(err, "room between %s and %s", a, b)
	}
	return &room, nil
}

func (s *Service) MembersOf(ctx context.Context, roomID uint) ([]models.RoomMember, error) {
	var members []models.RoomMember
	err := s.DB.WithContext(ctx).Where("room_id = ?", roomID).Order("id ASC").Find(&members).Error
	return members, err
}

func (s *Service) AcceptRoom(ctx context.Context, roomID uint, memberID string, at time.Time) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.RoomMember{}).
			Where("room_id = ? AND member_id = ?", roomID, memberID).
			Updates(map[string]interface{}{
				"status":    models.MemberStatusJoined,
				"joined_at": at,
			}).Error
		if err != nil {
			return err
		}
		// Статус кімнати рухається лише вперед: PENDING -> ACCEPTED.
		return tx.Model(&models.ChatRoom{}).
			Where("id = ? AND status = ?", roomID, models.RoomStatusPending).
			Update("status", models.RoomStatusAccepted).Error
	})
}

func (s *Service) UpdateRoomStatus(ctx context.Context, roomID uint, status models.RoomStatus) error {
	res := s.DB.WithContext(ctx).Model(&models.ChatRoom{}).Where("id = ?", roomID).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	return nil
}

// DeleteMember removes the membership row and drops the member from the
// participants index.
func (s *Service) DeleteMember(ctx context.Context, roomID uint, memberID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ? AND member_id = ?", roomID, memberID).Delete(&models.RoomMember{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.ChatRoom{}).Where("id = ?", roomID).
			Update("participants", gorm.Expr("array_remove(participants, ?)", memberID)).Error
	})
}

func (s *Service) DeleteRoom(ctx context.Context, roomID uint) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&models.RoomMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.ChatRoom{}, roomID).Error
	})
}

func (s *Service) RoomsFor(ctx context.Context, memberID string) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := s.DB.WithContext(ctx).
		Where("? = ANY(participants)", memberID).
		Order("updated_at DESC").
		Find(&rooms).Error
	return rooms, err
}

func (s *Service) PendingRoomsFor(ctx context.Context, memberID string, role models.MemberRole) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := s.DB.WithContext(ctx).
		Joins("JOIN room_members ON room_members.room_id = chat_rooms.id").
		Where("room_members.member_id = ? AND room_members.role = ? AND chat_rooms.status = ?",
			memberID, role, models.RoomStatusPending).
		Order("chat_rooms.created_at DESC").
		Find(&rooms).Error
	return rooms, err
}
