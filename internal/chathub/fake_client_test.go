package chathub_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"talkback/backend/internal/models"

	"github.com/stretchr/testify/mock"
)

var errBrokenPipe = errors.New("broken pipe")

type fakeClient struct {
	userID      string
	connectedAt time.Time

	mu      sync.Mutex
	events  []models.PushEvent
	sendErr error
	running bool

	closeOnce sync.Once
	done      chan struct{}
}

func newFakeClient(userID string) *fakeClient {
	return &fakeClient{userID: userID, connectedAt: time.Now(), done: make(chan struct{})}
}

func (c *fakeClient) GetUserID() string      { return c.userID }
func (c *fakeClient) ConnectedAt() time.Time { return c.connectedAt }
func (c *fakeClient) Done() <-chan struct{}  { return c.done }

func (c *fakeClient) Run() {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
}

func (c *fakeClient) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *fakeClient) Send(e models.PushEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		c.Close()
		return c.sendErr
	}
	c.events = append(c.events, e)
	return nil
}

func (c *fakeClient) failWith(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeClient) Events() []models.PushEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.PushEvent(nil), c.events...)
}

func (c *fakeClient) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// MockOnline is a testify mock of chathub.OnlineTracker.
type MockOnline struct {
	mock.Mock
}

func (m *MockOnline) Touch(ctx context.Context, userID string) error {
	return m.Called(userID).Error(0)
}

func (m *MockOnline) SetOffline(ctx context.Context, userID string) error {
	return m.Called(userID).Error(0)
}
