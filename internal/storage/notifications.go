package storage

import (
	"context"
	"fmt"
	"time"

	"talkback/backend/internal/models"

	"gorm.io/gorm"
)

func (s *Service) SaveNotification(ctx context.Context, n *models.Notification) error {
	if err := s.DB.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("save notification for %s: %w", n.ReceiverID, err)
	}
	return nil
}

func (s *Service) Undelivered(ctx context.Context, receiverID string) ([]models.Notification, error) {
	var out []models.Notification
	err := s.DB.WithContext(ctx).
		Where("receiver_id = ? AND delivered_at IS NULL", receiverID).
		Order("created_at ASC").Order("id ASC").
		Find(&out).Error
	return out, err
}

func (s *Service) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Update("delivered_at", at).Error
}

func (s *Service) NotificationsFor(ctx context.Context, receiverID string, offset, limit int) ([]models.Notification, int64, error) {
	var (
		out   []models.Notification
		total int64
	)
	q := s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("receiver_id = ?", receiverID).
		Session(&gorm.Session{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

func (s *Service) CountUnreadNotifications(ctx context.Context, receiverID string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("receiver_id = ? AND read_at IS NULL", receiverID).
		Count(&n).Error
	return n, err
}

func (s *Service) MarkNotificationRead(ctx context.Context, receiverID, id string, at time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND receiver_id = ?", id, receiverID).
		Update("read_at", gorm.Expr("COALESCE(read_at, ?)", at))
	return res.RowsAffected, res.Error
}
