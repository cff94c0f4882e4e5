package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"talkback/backend/internal/cache"
	"talkback/backend/internal/chat"
	"talkback/backend/internal/chathub"
	"talkback/backend/internal/members"
	"talkback/backend/internal/models"
	"talkback/backend/internal/notification"
	"talkback/backend/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type harness struct {
	svc      *chat.Service
	store    *storage.MemoryStore
	mr       *miniredis.Miniredis
	recent   *cache.RecentMessages
	unread   *cache.UnreadCounter
	presence *cache.Presence
	hub      *chathub.ManagerService
	notes    *notification.Service
	relay    *recordingRelay
}

type option func(*chat.Deps)

func withMessages(ms storage.MessageStore) option {
	return func(d *chat.Deps) { d.Messages = ms }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		store:    storage.NewMemoryStore(),
		mr:       mr,
		recent:   cache.NewRecentMessages(rdb, 30, 10*time.Minute),
		unread:   cache.NewUnreadCounter(rdb, 10*time.Minute),
		presence: cache.NewPresence(rdb, 10*time.Minute, 2*time.Minute),
		relay:    &recordingRelay{},
	}
	h.hub = chathub.NewManagerService(h.presence, chathub.Options{})
	h.notes = notification.NewService(h.store, h.hub)
	h.hub.SetBacklogFlusher(h.notes.FlushBacklog)

	h.rebuild(opts...)

	ctx := context.Background()
	require.NoError(t, h.store.SaveMember(ctx, &models.Member{ID: "A", DisplayName: "Anna"}))
	require.NoError(t, h.store.SaveMember(ctx, &models.Member{ID: "B", DisplayName: "Bohdan"}))
	require.NoError(t, h.store.SaveMember(ctx, &models.Member{ID: "C", DisplayName: "Chrystia"}))
	return h
}

// rebuild wires a fresh service over the harness stores with opts applied.
func (h *harness) rebuild(opts ...option) {
	deps := chat.Deps{
		Messages: h.store,
		Rooms:    h.store,
		Members:  members.NewStoreResolver(h.store),
		Cache:    h.recent,
		Unread:   h.unread,
		Presence: h.presence,
		Notifier: h.notes,
		Live:     h.hub,
		Relay:    h.relay,
	}
	for _, o := range opts {
		o(&deps)
	}
	h.svc = chat.NewService(deps, chat.Options{})
}

// acceptedRoom creates an ACCEPTED room where A requested and B accepted.
func (h *harness) acceptedRoom(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	joinedA := time.Now().UTC().Add(-time.Hour)
	joinedB := joinedA.Add(time.Minute)
	room := &models.ChatRoom{Status: models.RoomStatusAccepted}
	require.NoError(t, h.store.CreateRoom(ctx, room, []models.RoomMember{
		{MemberID: "A", Role: models.RoleSender, Status: models.MemberStatusJoined, JoinedAt: &joinedA},
		{MemberID: "B", Role: models.RoleReceiver, Status: models.MemberStatusJoined, JoinedAt: &joinedB},
	}))
	return room.Token
}

// seed submits n messages "m1".."mn" from A.
func (h *harness) seed(t *testing.T, room string, n int) []models.MessageView {
	t.Helper()
	out := make([]models.MessageView, 0, n)
	for i := 1; i <= n; i++ {
		v, err := h.svc.Submit(context.Background(), chat.SubmitRequest{RoomToken: room, SenderID: "A", Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		out = append(out, *v)
	}
	return out
}

func (h *harness) notificationsOf(t *testing.T, userID string, typ models.NotificationType) []models.Notification {
	t.Helper()
	all, _, err := h.store.NotificationsFor(context.Background(), userID, 0, 1000)
	require.NoError(t, err)
	var out []models.Notification
	for _, n := range all {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func contents(vs []models.MessageView) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Content
	}
	return out
}

type recordingRelay struct {
	mu     sync.Mutex
	events []models.MessageCreatedEvent
	err    error
}

func (r *recordingRelay) Emit(ctx context.Context, e models.MessageCreatedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recordingRelay) emitted() []models.MessageCreatedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.MessageCreatedEvent(nil), r.events...)
}

// failingMessages loses every write.
type failingMessages struct {
	*storage.MemoryStore
}

func (failingMessages) SaveMessage(context.Context, *models.ChatMessage) error {
	return errors.New("database is down")
}

type streamClient struct {
	userID string

	mu     sync.Mutex
	events []models.PushEvent
	once   sync.Once
	done   chan struct{}
}

func newStreamClient(userID string) *streamClient {
	return &streamClient{userID: userID, done: make(chan struct{})}
}

func (c *streamClient) GetUserID() string      { return c.userID }
func (c *streamClient) ConnectedAt() time.Time { return time.Now() }
func (c *streamClient) Run()                   {}
func (c *streamClient) Done() <-chan struct{}  { return c.done }
func (c *streamClient) Close()                 { c.once.Do(func() { close(c.done) }) }

func (c *streamClient) Send(e models.PushEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *streamClient) received() []models.PushEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.PushEvent(nil), c.events...)
}
