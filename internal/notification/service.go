// Package notification stores member notifications and delivers them over
// the push stream, queueing them while the member is offline.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talkback/backend/internal/chathub"
	"talkback/backend/internal/config"
	"talkback/backend/internal/logging"
	"talkback/backend/internal/metrics"
	"talkback/backend/internal/models"
	"talkback/backend/internal/storage"
)

var ErrNotificationNotFound = errors.New("notification not found")

// Pusher delivers an event to a member's live stream.
type Pusher interface {
	Push(ctx context.Context, userID string, event models.PushEvent) chathub.PushResult
}

type Service struct {
	store storage.NotificationStore
	hub   Pusher
	now   func() time.Time
}

func NewService(store storage.NotificationStore, hub Pusher) *Service {
	return &Service{store: store, hub: hub, now: func() time.Time { return time.Now().UTC() }}
}

// Create stores an undelivered notification for receiverID.
func (s *Service) Create(ctx context.Context, receiverID string, p models.NotificationPayload) (*models.Notification, error) {
	n, err := models.NewNotification(receiverID, p)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveNotification(ctx, n); err != nil {
		return nil, err
	}
	metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	return n, nil
}

// DispatchOrQueue pushes n if the receiver has a stream. The record is marked
// delivered only after a successful push; otherwise it waits for the next
// FlushBacklog.
func (s *Service) DispatchOrQueue(ctx context.Context, n *models.Notification) chathub.PushResult {
	res := s.hub.Push(ctx, n.ReceiverID, models.NotificationEvent(n))
	if res != chathub.Delivered {
		return res
	}
	s.markDelivered(ctx, n)
	return res
}

// Notify is Create followed by DispatchOrQueue.
func (s *Service) Notify(ctx context.Context, receiverID string, p models.NotificationPayload) (*models.Notification, chathub.PushResult, error) {
	n, err := s.Create(ctx, receiverID, p)
	if err != nil {
		return nil, chathub.NoActiveStream, err
	}
	return n, s.DispatchOrQueue(ctx, n), nil
}

func (s *Service) SendChat(ctx context.Context, receiverID string, p models.ChatPayload) (*models.Notification, error) {
	n, _, err := s.Notify(ctx, receiverID, p)
	return n, err
}

func (s *Service) SendChatRequest(ctx context.Context, receiverID string, p models.ChatRequestPayload) (*models.Notification, error) {
	n, _, err := s.Notify(ctx, receiverID, p)
	return n, err
}

func (s *Service) SendSystem(ctx context.Context, receiverID string, p models.SystemPayload) (*models.Notification, error) {
	n, _, err := s.Notify(ctx, receiverID, p)
	return n, err
}

// FlushBacklog sends the member's undelivered notifications to c in creation
// order and stops at the first failure; the rest stay undelivered.
func (s *Service) FlushBacklog(ctx context.Context, c chathub.Client) error {
	userID := c.GetUserID()
	pending, err := s.store.Undelivered(ctx, userID)
	if err != nil {
		return fmt.Errorf("load backlog of %s: %w", userID, err)
	}
	for i := range pending {
		n := &pending[i]
		if err := c.Send(models.NotificationEvent(n)); err != nil {
			return fmt.Errorf("flush notification %s (%d of %d): %w", n.ID, i+1, len(pending), err)
		}
		s.markDelivered(ctx, n)
	}
	if len(pending) > 0 {
		logging.Info().Str("user", userID).Int("count", len(pending)).Msg("backlog flushed")
	}
	return nil
}

// a failed mark only means the notification is pushed again later
func (s *Service) markDelivered(ctx context.Context, n *models.Notification) {
	at := s.now()
	if err := s.store.MarkDelivered(ctx, n.ID, at); err != nil {
		logging.Warn().Err(err).Str("notification_id", n.ID).Str("user", n.ReceiverID).Msg("failed to mark notification delivered")
		return
	}
	n.DeliveredAt = &at
	metrics.NotificationsDelivered.Inc()
}

type Page struct {
	Items      []models.Notification `json:"items"`
	Page       int                   `json:"page"`
	Size       int                   `json:"size"`
	TotalItems int64                 `json:"totalItems"`
	HasNext    bool                  `json:"hasNext"`
}

// List returns a page of the member's notifications, newest first.
// page is zero-based; size is clamped to 1..50.
func (s *Service) List(ctx context.Context, receiverID string, page, size int) (Page, error) {
	if page < 0 {
		page = 0
	}
	size = clampSize(size)
	items, total, err := s.store.NotificationsFor(ctx, receiverID, page*size, size)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []models.Notification{}
	}
	return Page{
		Items:      items,
		Page:       page,
		Size:       size,
		TotalItems: total,
		HasNext:    int64((page+1)*size) < total,
	}, nil
}

func clampSize(size int) int {
	switch {
	case size < 1:
		return 1
	case size > config.MaxNotificationPg:
		return config.MaxNotificationPg
	}
	return size
}

func (s *Service) UnreadCount(ctx context.Context, receiverID string) (int64, error) {
	return s.store.CountUnreadNotifications(ctx, receiverID)
}

// MarkRead marks one of the member's notifications read.
func (s *Service) MarkRead(ctx context.Context, receiverID, id string) error {
	n, err := s.store.MarkNotificationRead(ctx, receiverID, id, s.now())
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotificationNotFound)
	}
	return nil
}
