package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talkback/backend/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// MessageStore is the durable, authoritative message history.
type MessageStore interface {
	// SaveMessage assigns ID and SentAt (server time, UTC) and stores msg.
	SaveMessage(ctx context.Context, msg *models.ChatMessage) error
	// MessagesBefore returns up to limit messages strictly older than
	// (before, beforeID), newest first. beforeID == 0 compares on time only;
	// a zero before means no upper bound.
	MessagesBefore(ctx context.Context, roomToken string, before time.Time, beforeID uint, limit int) ([]models.ChatMessage, error)
	UnreadFor(ctx context.Context, roomToken, receiverID string) ([]models.ChatMessage, error)
	MarkRead(ctx context.Context, roomToken, receiverID string) (int64, error)
	CountUnread(ctx context.Context, roomToken, receiverID string) (int64, error)
	LastMessage(ctx context.Context, roomToken string) (*models.ChatMessage, error)
}

type RoomStore interface {
	CreateRoom(ctx context.Context, room *models.ChatRoom, members []models.RoomMember) error
	RoomByToken(ctx context.Context, token string) (*models.ChatRoom, error)
	RoomBetween(ctx context.Context, a, b string) (*models.ChatRoom, error)
	MembersOf(ctx context.Context, roomID uint) ([]models.RoomMember, error)
	// AcceptRoom marks memberID joined and moves a PENDING room to ACCEPTED.
	AcceptRoom(ctx context.Context, roomID uint, memberID string, at time.Time) error
	UpdateRoomStatus(ctx context.Context, roomID uint, status models.RoomStatus) error
	DeleteMember(ctx context.Context, roomID uint, memberID string) error
	DeleteRoom(ctx context.Context, roomID uint) error
	RoomsFor(ctx context.Context, memberID string) ([]models.ChatRoom, error)
	PendingRoomsFor(ctx context.Context, memberID string, role models.MemberRole) ([]models.ChatRoom, error)
}

type NotificationStore interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	// Undelivered returns receiverID's undelivered notifications oldest first.
	Undelivered(ctx context.Context, receiverID string) ([]models.Notification, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	// NotificationsFor returns a page newest first and the total count.
	NotificationsFor(ctx context.Context, receiverID string, offset, limit int) ([]models.Notification, int64, error)
	CountUnreadNotifications(ctx context.Context, receiverID string) (int64, error)
	// MarkNotificationRead returns the number of rows updated.
	MarkNotificationRead(ctx context.Context, receiverID, id string, at time.Time) (int64, error)
}

type MemberStore interface {
	SaveMember(ctx context.Context, m *models.Member) error
	MemberByID(ctx context.Context, id string) (*models.Member, error)
}

// Storage is everything the relational backend provides.
type Storage interface {
	MessageStore
	RoomStore
	NotificationStore
	MemberStore
}

// Service implements Storage on PostgreSQL via gorm.
type Service struct {
	DB *gorm.DB
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// AutoMigrate створює або оновлює таблиці для всіх моделей.
func (s *Service) AutoMigrate() error {
	return s.DB.AutoMigrate(
		&models.Member{},
		&models.ChatRoom{},
		&models.RoomMember{},
		&models.ChatMessage{},
		&models.Notification{},
	)
}

func (s *Service) SaveMember(ctx context.Context, m *models.Member) error {
	return s.DB.WithContext(ctx).Save(m).Error
}

func (s *Service) MemberByID(ctx context.Context, id string) (*models.Member, error) {
	var m models.Member
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "member %s", id)
	}
	return &m, nil
}

// notFound maps gorm.ErrRecordNotFound to ErrNotFound and wraps everything else.
func notFound(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

// now is the server clock for stored timestamps. Postgres keeps microseconds,
// so values are truncated to keep cached copies identical to stored rows.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
