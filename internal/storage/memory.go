package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"talkback/backend/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Storage used for local development and tests.
// Nothing survives a process restart.
type MemoryStore struct {
	mu            sync.RWMutex
	nextMessageID uint
	nextRoomID    uint
	nextMemberID  uint
	messages      []models.ChatMessage
	rooms         map[uint]*models.ChatRoom
	roomMembers   map[uint][]models.RoomMember
	notifications map[string]*models.Notification
	members       map[string]*models.Member
}

var _ Storage = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:         make(map[uint]*models.ChatRoom),
		roomMembers:   make(map[uint][]models.RoomMember),
		notifications: make(map[string]*models.Notification),
		members:       make(map[string]*models.Member),
	}
}

// --- messages ---

func (s *MemoryStore) SaveMessage(ctx context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMessageID++
	msg.ID = s.nextMessageID
	msg.SentAt = now()
	if msg.Status == "" {
		msg.Status = models.MessageUnread
	}
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MemoryStore) MessagesBefore(ctx context.Context, roomToken string, before time.Time, beforeID uint, limit int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChatMessage
	for _, m := range s.messages {
		if m.RoomToken != roomToken {
			continue
		}
		switch {
		case before.IsZero():
		case beforeID == 0:
			if !m.SentAt.Before(before) {
				continue
			}
		default:
			if !m.Before(models.ChatMessage{SentAt: before, ID: beforeID}) {
				continue
			}
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b models.ChatMessage) int {
		switch {
		case b.Before(a):
			return -1
		case a.Before(b):
			return 1
		}
		return 0
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UnreadFor(ctx context.Context, roomToken, receiverID string) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChatMessage
	for _, m := range s.messages {
		if m.RoomToken == roomToken && m.ReceiverID == receiverID && m.Status == models.MessageUnread {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, roomToken, receiverID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.RoomToken == roomToken && m.ReceiverID == receiverID && m.Status == models.MessageUnread {
			m.Status = models.MessageRead
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CountUnread(ctx context.Context, roomToken, receiverID string) (int64, error) {
	msgs, _ := s.UnreadFor(ctx, roomToken, receiverID)
	return int64(len(msgs)), nil
}

func (s *MemoryStore) LastMessage(ctx context.Context, roomToken string) (*models.ChatMessage, error) {
	msgs, _ := s.MessagesBefore(ctx, roomToken, time.Time{}, 0, 1)
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// --- rooms ---

func (s *MemoryStore) CreateRoom(ctx context.Context, room *models.ChatRoom, members []models.RoomMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := room.BeforeCreate(nil); err != nil {
		return err
	}
	s.nextRoomID++
	room.ID = s.nextRoomID
	room.CreatedAt = now()
	room.UpdatedAt = room.CreatedAt
	if len(room.Participants) == 0 {
		for _, m := range members {
			room.Participants = append(room.Participants, m.MemberID)
		}
	}
	for i := range members {
		s.nextMemberID++
		members[i].ID = s.nextMemberID
		members[i].RoomID = room.ID
	}
	stored := *room
	stored.Participants = slices.Clone(room.Participants)
	s.rooms[room.ID] = &stored
	s.roomMembers[room.ID] = slices.Clone(members)
	return nil
}

func (s *MemoryStore) RoomByToken(ctx context.Context, token string) (*models.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rooms {
		if r.Token == token {
			return cloneRoom(r), nil
		}
	}
	return nil, fmt.Errorf("room %s: %w", token, ErrNotFound)
}

func (s *MemoryStore) RoomBetween(ctx context.Context, a, b string) (*models.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.ChatRoom
	for _, r := range s.rooms {
		if r.HasParticipant(a) && r.HasParticipant(b) && (found == nil || r.ID < found.ID) {
			found = r
		}
	}
	if found == nil {
		return nil, fmt.Errorf("room between %s and %s: %w", a, b, ErrNotFound)
	}
	return cloneRoom(found), nil
}

func (s *MemoryStore) MembersOf(ctx context.Context, roomID uint) ([]models.RoomMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.roomMembers[roomID]), nil
}

func (s *MemoryStore) AcceptRoom(ctx context.Context, roomID uint, memberID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	members := s.roomMembers[roomID]
	for i := range members {
		if members[i].MemberID == memberID {
			joined := at
			members[i].Status = models.MemberStatusJoined
			members[i].JoinedAt = &joined
		}
	}
	if r.Status == models.RoomStatusPending {
		r.Status = models.RoomStatusAccepted
		r.UpdatedAt = now()
	}
	return nil
}

func (s *MemoryStore) UpdateRoomStatus(ctx context.Context, roomID uint, status models.RoomStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	r.Status = status
	r.UpdatedAt = now()
	return nil
}

func (s *MemoryStore) DeleteMember(ctx context.Context, roomID uint, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomMembers[roomID] = slices.DeleteFunc(s.roomMembers[roomID], func(m models.RoomMember) bool {
		return m.MemberID == memberID
	})
	if r, ok := s.rooms[roomID]; ok {
		r.Participants = slices.DeleteFunc(r.Participants, func(p string) bool { return p == memberID })
	}
	return nil
}

func (s *MemoryStore) DeleteRoom(ctx context.Context, roomID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	delete(s.roomMembers, roomID)
	return nil
}

func (s *MemoryStore) RoomsFor(ctx context.Context, memberID string) ([]models.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChatRoom
	for _, r := range s.rooms {
		if r.HasParticipant(memberID) {
			out = append(out, *cloneRoom(r))
		}
	}
	sortRoomsNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) PendingRoomsFor(ctx context.Context, memberID string, role models.MemberRole) ([]models.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ChatRoom
	for id, r := range s.rooms {
		if r.Status != models.RoomStatusPending {
			continue
		}
		if m, ok := models.FindMember(s.roomMembers[id], memberID); ok && m.Role == role {
			out = append(out, *cloneRoom(r))
		}
	}
	sortRoomsNewestFirst(out)
	return out, nil
}

func cloneRoom(r *models.ChatRoom) *models.ChatRoom {
	c := *r
	c.Participants = slices.Clone(r.Participants)
	return &c
}

func sortRoomsNewestFirst(rooms []models.ChatRoom) {
	slices.SortFunc(rooms, func(a, b models.ChatRoom) int {
		return int(b.ID) - int(a.ID)
	})
}

// --- notifications ---

func (s *MemoryStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now()
	}
	c := *n
	s.notifications[n.ID] = &c
	return nil
}

func (s *MemoryStore) sortedNotifications(receiverID string, keep func(*models.Notification) bool) []models.Notification {
	var out []models.Notification
	for _, n := range s.notifications {
		if n.ReceiverID == receiverID && keep(n) {
			out = append(out, *n)
		}
	}
	slices.SortFunc(out, func(a, b models.Notification) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (s *MemoryStore) Undelivered(ctx context.Context, receiverID string) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedNotifications(receiverID, func(n *models.Notification) bool { return n.DeliveredAt == nil }), nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.notifications[id]; ok && n.DeliveredAt == nil {
		t := at
		n.DeliveredAt = &t
	}
	return nil
}

func (s *MemoryStore) NotificationsFor(ctx context.Context, receiverID string, offset, limit int) ([]models.Notification, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.sortedNotifications(receiverID, func(*models.Notification) bool { return true })
	slices.Reverse(all)
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], total, nil
}

func (s *MemoryStore) CountUnreadNotifications(ctx context.Context, receiverID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.sortedNotifications(receiverID, func(n *models.Notification) bool { return n.ReadAt == nil }))), nil
}

func (s *MemoryStore) MarkNotificationRead(ctx context.Context, receiverID, id string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.ReceiverID != receiverID {
		return 0, nil
	}
	if n.ReadAt == nil {
		t := at
		n.ReadAt = &t
	}
	return 1, nil
}

// --- members ---

func (s *MemoryStore) SaveMember(ctx context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.BeforeCreate(nil); err != nil {
		return err
	}
	c := *m
	s.members[m.ID] = &c
	return nil
}

func (s *MemoryStore) MemberByID(ctx context.Context, id string) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	c := *m
	return &c, nil
}
