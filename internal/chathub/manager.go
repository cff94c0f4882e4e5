package chathub

import (
	"context"
	"sync"
	"time"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/metrics"
	"talkback/backend/internal/models"
)

// PushResult is the outcome of pushing one event to a member.
type PushResult int

const (
	Delivered PushResult = iota
	NoActiveStream
	TransportFailure
)

func (r PushResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case NoActiveStream:
		return "no_active_stream"
	case TransportFailure:
		return "transport_failure"
	}
	return "unknown"
}

// OnlineTracker records whether a member has a live stream.
type OnlineTracker interface {
	Touch(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

// FrameHandler receives control frames sent by WebSocket clients.
type FrameHandler interface {
	HandleFrame(ctx context.Context, userID string, frame models.ClientFrame)
}

// BacklogFlusher sends everything queued for a member to a freshly opened
// stream. It runs before the stream receives live pushes.
type BacklogFlusher func(ctx context.Context, c Client) error

type Options struct {
	ProbeInterval time.Duration
	MaxLifetime   time.Duration
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// ManagerService is the process-wide registry of push streams, one per member.
// A new stream for a member replaces (and closes) the previous one.
type ManagerService struct {
	mu      sync.RWMutex
	clients map[string]Client

	// per-member delivery locks; they order backlog flush before live pushes
	locksMu sync.Mutex
	locks   map[string]*userLock

	online  OnlineTracker
	frames  FrameHandler
	flusher BacklogFlusher
	opts    Options
}

func NewManagerService(online OnlineTracker, opts Options) *ManagerService {
	return &ManagerService{
		clients: make(map[string]Client),
		locks:   make(map[string]*userLock),
		online:  online,
		opts:    opts,
	}
}

func (m *ManagerService) SetBacklogFlusher(f BacklogFlusher) {
	m.flusher = f
}

func (m *ManagerService) SetFrameHandler(h FrameHandler) {
	m.frames = h
}

func (m *ManagerService) lockUser(userID string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, userID)
		}
		m.locksMu.Unlock()
	}
}

// Open registers c, starts it and flushes the member's backlog to it.
// Live pushes to the member wait until the flush is over.
func (m *ManagerService) Open(ctx context.Context, c Client) {
	userID := c.GetUserID()
	unlock := m.lockUser(userID)
	defer unlock()

	m.mu.Lock()
	prev := m.clients[userID]
	m.clients[userID] = c
	count := len(m.clients)
	m.mu.Unlock()
	metrics.ActiveStreams.Set(float64(count))

	if prev != nil && prev != c {
		// last connect wins
		prev.Close()
	}

	c.Run()
	m.Heartbeat(ctx, userID)
	logging.Info().Str("user", userID).Msg("push stream opened")

	if m.flusher == nil {
		return
	}
	if err := m.flusher(ctx, c); err != nil {
		logging.Warn().Err(err).Str("user", userID).Msg("backlog flush stopped")
	}
	select {
	case <-c.Done():
		m.Close(userID, c)
	default:
	}
}

// Close deregisters c if it is still the member's current stream and shuts
// it down. It reports whether c was deregistered.
func (m *ManagerService) Close(userID string, c Client) bool {
	m.mu.Lock()
	cur, ok := m.clients[userID]
	removed := ok && cur == c
	if removed {
		delete(m.clients, userID)
	}
	count := len(m.clients)
	m.mu.Unlock()

	c.Close()
	if !removed {
		return false
	}
	metrics.ActiveStreams.Set(float64(count))
	if m.online != nil {
		if err := m.online.SetOffline(context.Background(), userID); err != nil {
			logging.Warn().Err(err).Str("user", userID).Msg("failed to clear online flag")
		}
	}
	logging.Info().Str("user", userID).Msg("push stream closed")
	return true
}

// Push sends event to the member's stream. A failed write closes the stream.
func (m *ManagerService) Push(ctx context.Context, userID string, event models.PushEvent) PushResult {
	unlock := m.lockUser(userID)
	defer unlock()

	res := m.push(userID, event)
	metrics.PushResults.WithLabelValues(res.String()).Inc()
	return res
}

func (m *ManagerService) push(userID string, event models.PushEvent) PushResult {
	c, ok := m.client(userID)
	if !ok {
		return NoActiveStream
	}
	if err := c.Send(event); err != nil {
		logging.Warn().Err(err).Str("user", userID).Str("event_type", event.EventType).Msg("push failed, dropping stream")
		m.Close(userID, c)
		return TransportFailure
	}
	return Delivered
}

func (m *ManagerService) client(userID string) (Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[userID]
	return c, ok
}

func (m *ManagerService) IsConnected(userID string) bool {
	_, ok := m.client(userID)
	return ok
}

func (m *ManagerService) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Heartbeat extends the member's online record.
func (m *ManagerService) Heartbeat(ctx context.Context, userID string) {
	if m.online == nil {
		return
	}
	if err := m.online.Touch(ctx, userID); err != nil {
		logging.Warn().Err(err).Str("user", userID).Msg("failed to refresh online flag")
	}
}

func (m *ManagerService) HandleFrame(ctx context.Context, userID string, frame models.ClientFrame) {
	if frame.Type == "heartbeat" {
		m.Heartbeat(ctx, userID)
		return
	}
	if m.frames != nil {
		m.frames.HandleFrame(ctx, userID, frame)
	}
}

func (m *ManagerService) snapshot() map[string]Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Client, len(m.clients))
	for id, c := range m.clients {
		out[id] = c
	}
	return out
}

// Shutdown closes every stream.
func (m *ManagerService) Shutdown() {
	for id, c := range m.snapshot() {
		m.Close(id, c)
	}
}
