package chathub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"talkback/backend/internal/chathub"
	"talkback/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newHub(t *testing.T) (*chathub.ManagerService, *MockOnline) {
	t.Helper()
	online := new(MockOnline)
	online.On("Touch", mock.Anything).Return(nil)
	online.On("SetOffline", mock.Anything).Return(nil)
	return chathub.NewManagerService(online, chathub.Options{ProbeInterval: time.Hour, MaxLifetime: 6 * time.Hour}), online
}

func TestManager_OpenAndClose(t *testing.T) {
	// Arrange
	hub, online := newHub(t)
	client := newFakeClient("user_A")

	// Act
	hub.Open(context.Background(), client)

	// Assert
	assert.True(t, hub.IsConnected("user_A"))
	assert.True(t, client.running)
	online.AssertCalled(t, "Touch", "user_A")

	assert.True(t, hub.Close("user_A", client))
	assert.False(t, hub.IsConnected("user_A"))
	assert.True(t, client.isClosed())
	online.AssertCalled(t, "SetOffline", "user_A")
}

func TestManager_LastConnectWins(t *testing.T) {
	// Arrange
	hub, online := newHub(t)
	first := newFakeClient("user_A")
	second := newFakeClient("user_A")

	// Act
	hub.Open(context.Background(), first)
	hub.Open(context.Background(), second)
	removedStale := hub.Close("user_A", first)

	// Assert
	assert.True(t, first.isClosed(), "displaced stream is closed")
	assert.False(t, removedStale, "closing the old handle must not remove the new stream")
	assert.True(t, hub.IsConnected("user_A"))
	assert.Equal(t, 1, hub.ActiveCount())
	online.AssertNotCalled(t, "SetOffline", "user_A")

	res := hub.Push(context.Background(), "user_A", models.PushEvent{EventType: "system"})
	assert.Equal(t, chathub.Delivered, res)
	assert.Len(t, second.Events(), 1)
	assert.Empty(t, first.Events())
}

func TestManager_PushResults(t *testing.T) {
	// Arrange
	hub, _ := newHub(t)
	client := newFakeClient("user_B")
	hub.Open(context.Background(), client)
	event := models.PushEvent{EventID: "n1", EventType: "chat", Payload: "hello"}

	// Act
	delivered := hub.Push(context.Background(), "user_B", event)
	none := hub.Push(context.Background(), "nobody", event)
	client.failWith(errBrokenPipe)
	failed := hub.Push(context.Background(), "user_B", event)

	// Assert
	assert.Equal(t, chathub.Delivered, delivered)
	assert.Equal(t, chathub.NoActiveStream, none)
	assert.Equal(t, chathub.TransportFailure, failed)
	assert.False(t, hub.IsConnected("user_B"), "failed stream is deregistered")
	assert.Equal(t, "transport_failure", failed.String())
}

func TestManager_BacklogFlushedBeforeLivePush(t *testing.T) {
	// Arrange
	hub, _ := newHub(t)
	client := newFakeClient("user_B")
	flushStarted := make(chan struct{})
	releaseFlush := make(chan struct{})
	hub.SetBacklogFlusher(func(ctx context.Context, c chathub.Client) error {
		close(flushStarted)
		<-releaseFlush
		return c.Send(models.PushEvent{EventID: "backlog-1", EventType: "chat"})
	})

	// Act
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		hub.Open(context.Background(), client)
	}()
	<-flushStarted
	go func() {
		defer wg.Done()
		hub.Push(context.Background(), "user_B", models.PushEvent{EventID: "live-1", EventType: "chat"})
	}()
	// give the live push a chance to overtake the flush if it could
	time.Sleep(50 * time.Millisecond)
	close(releaseFlush)
	wg.Wait()

	// Assert
	events := client.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "backlog-1", events[0].EventID)
	assert.Equal(t, "live-1", events[1].EventID)
}

func TestManager_FailedFlushDeregisters(t *testing.T) {
	hub, _ := newHub(t)
	client := newFakeClient("user_B")
	client.failWith(errBrokenPipe)
	hub.SetBacklogFlusher(func(ctx context.Context, c chathub.Client) error {
		return c.Send(models.PushEvent{EventID: "n1"})
	})

	hub.Open(context.Background(), client)

	assert.False(t, hub.IsConnected("user_B"))
}

type recordingFrames struct {
	mu     sync.Mutex
	frames []models.ClientFrame
}

func (r *recordingFrames) HandleFrame(ctx context.Context, userID string, f models.ClientFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func TestManager_HandleFrame(t *testing.T) {
	hub, online := newHub(t)
	frames := &recordingFrames{}
	hub.SetFrameHandler(frames)

	hub.HandleFrame(context.Background(), "user_A", models.ClientFrame{Type: "heartbeat"})
	hub.HandleFrame(context.Background(), "user_A", models.ClientFrame{Type: "enter", RoomToken: "r1"})

	online.AssertNumberOfCalls(t, "Touch", 1)
	require.Len(t, frames.frames, 1)
	assert.Equal(t, "r1", frames.frames[0].RoomToken)
}
