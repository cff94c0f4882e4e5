// Package chat implements message ingest, the read model over cache and
// durable store, read state and the 1:1 room lifecycle.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talkback/backend/internal/chathub"
	"talkback/backend/internal/config"
	"talkback/backend/internal/members"
	"talkback/backend/internal/models"
	"talkback/backend/internal/storage"

	"github.com/go-playground/validator/v10"
)

type RecentCache interface {
	Append(ctx context.Context, msg models.ChatMessage) error
	Recent(ctx context.Context, roomToken string, n int) ([]models.ChatMessage, error)
	Evict(ctx context.Context, roomToken string) error
}

type UnreadCounter interface {
	Increment(ctx context.Context, roomToken, userID string) (int64, bool, error)
	Reset(ctx context.Context, roomToken, userID string) error
	Get(ctx context.Context, roomToken, userID string) (int64, bool, error)
	Set(ctx context.Context, roomToken, userID string, n int64) error
}

type PresenceTracker interface {
	Enter(ctx context.Context, userID, roomToken string) error
	Leave(ctx context.Context, userID, roomToken string) error
	IsPresent(ctx context.Context, userID, roomToken string) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, receiverID string, p models.NotificationPayload) (*models.Notification, chathub.PushResult, error)
}

type LivePusher interface {
	Push(ctx context.Context, userID string, event models.PushEvent) chathub.PushResult
}

// EventEmitter hands "message created" events to the async relay.
type EventEmitter interface {
	Emit(ctx context.Context, event models.MessageCreatedEvent) error
}

type Deps struct {
	Messages storage.MessageStore
	Rooms    storage.RoomStore
	Members  members.Resolver
	Cache    RecentCache
	Unread   UnreadCounter
	Presence PresenceTracker
	Notifier Notifier
	Live     LivePusher
	// Relay is optional.
	Relay EventEmitter
}

type Options struct {
	DefaultPageSize  int
	MaxPageSize      int
	MaxContentLength int
}

type Service struct {
	Deps
	opts     Options
	validate *validator.Validate
}

func NewService(d Deps, opts Options) *Service {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = config.DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = config.MaxPageSize
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = config.MaxContentLength
	}
	return &Service{Deps: d, opts: opts, validate: validator.New()}
}

// memberRoom loads the room and its members and checks memberID belongs to it.
func (s *Service) memberRoom(ctx context.Context, roomToken, memberID string) (*models.ChatRoom, []models.RoomMember, error) {
	room, err := s.Rooms.RoomByToken(ctx, roomToken)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, fmt.Errorf("%s: %w", roomToken, ErrRoomNotFound)
	}
	if err != nil {
		return nil, nil, err
	}
	ms, err := s.Rooms.MembersOf(ctx, room.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("members of room %s: %w", roomToken, err)
	}
	if _, ok := models.FindMember(ms, memberID); !ok {
		return nil, nil, fmt.Errorf("%s in room %s: %w", memberID, roomToken, ErrForbidden)
	}
	return room, ms, nil
}

// CanView reports whether memberID may read the room.
func (s *Service) CanView(ctx context.Context, roomToken, memberID string) error {
	_, _, err := s.memberRoom(ctx, roomToken, memberID)
	return err
}

func (s *Service) pageSize(n int) int {
	switch {
	case n <= 0:
		return s.opts.DefaultPageSize
	case n > s.opts.MaxPageSize:
		return s.opts.MaxPageSize
	}
	return n
}

func nowUTC() time.Time { return time.Now().UTC() }
