package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talkback/backend/internal/models"

	"gorm.io/gorm"
)

func (s *Service) SaveMessage(ctx context.Context, msg *models.ChatMessage) error {
	msg.ID = 0
	msg.SentAt = now()
	if msg.Status == "" {
		msg.Status = models.MessageUnread
	}
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("save message in room %s: %w", msg.RoomToken, err)
	}
	return nil
}

func (s *Service) MessagesBefore(ctx context.Context, roomToken string, before time.Time, beforeID uint, limit int) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	q := s.DB.WithContext(ctx).Where("room_token = ?", roomToken)
	switch {
	case before.IsZero():
	case beforeID == 0:
		q = q.Where("sent_at < ?", before)
	default:
		q = q.Where("(sent_at < ? OR (sent_at = ? AND id < ?))", before, before, beforeID)
	}
	err := q.Order("sent_at DESC").Order("id DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("messages before %s in room %s: %w", before, roomToken, err)
	}
	return msgs, nil
}

func (s *Service) UnreadFor(ctx context.Context, roomToken, receiverID string) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.DB.WithContext(ctx).
		Where("room_token = ? AND receiver_id = ? AND status = ?", roomToken, receiverID, models.MessageUnread).
		Order("sent_at ASC").Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}

func (s *Service) MarkRead(ctx context.Context, roomToken, receiverID string) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("room_token = ? AND receiver_id = ? AND status = ?", roomToken, receiverID, models.MessageUnread).
		Update("status", models.MessageRead)
	if res.Error != nil {
		return 0, fmt.Errorf("mark read in room %s: %w", roomToken, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Service) CountUnread(ctx context.Context, roomToken, receiverID string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("room_token = ? AND receiver_id = ? AND status = ?", roomToken, receiverID, models.MessageUnread).
		Count(&n).Error
	return n, err
}

// LastMessage returns nil without error when the room has no messages.
func (s *Service) LastMessage(ctx context.Context, roomToken string) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	err := s.DB.WithContext(ctx).
		Where("room_token = ?", roomToken).
		Order("sent_at DESC").Order("id DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
