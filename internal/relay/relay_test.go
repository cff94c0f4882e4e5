package relay_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"talkback/backend/internal/models"
	"talkback/backend/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink fails the first failures publishes, then records events.
type fakeSink struct {
	mu        sync.Mutex
	failures  int
	calls     int
	published []models.MessageCreatedEvent
}

func (s *fakeSink) Publish(ctx context.Context, e models.MessageCreatedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.published = append(s.published, e)
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) events() []models.MessageCreatedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MessageCreatedEvent(nil), s.published...)
}

func event(id uint) models.MessageCreatedEvent {
	return models.NewMessageCreatedEvent(models.ChatMessage{ID: id, RoomToken: "R", SenderID: "A", ReceiverID: "B", Content: fmt.Sprintf("m%d", id)})
}

func openWAL(t *testing.T) *relay.BadgerWAL {
	t.Helper()
	w, err := relay.OpenBadgerWAL("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func serve(t *testing.T, r *relay.Relay) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func fastOptions() relay.Options {
	return relay.Options{
		QueueSize:    16,
		Workers:      2,
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
		Redrive:      10 * time.Millisecond,
	}
}

func TestRelay_PublishesAndConfirms(t *testing.T) {
	// Arrange
	sink := &fakeSink{}
	wal := openWAL(t)
	r := relay.New(sink, wal, fastOptions())
	serve(t, r)

	// Act
	require.NoError(t, r.Emit(context.Background(), event(1)))
	require.NoError(t, r.Emit(context.Background(), event(2)))

	// Assert
	assert.Eventually(t, func() bool { return len(sink.events()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		pending, err := wal.Pending(0)
		return err == nil && len(pending) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRelay_RetriesFailedPublish(t *testing.T) {
	// Arrange
	sink := &fakeSink{failures: 2}
	r := relay.New(sink, nil, fastOptions())
	serve(t, r)

	// Act
	require.NoError(t, r.Emit(context.Background(), event(7)))

	// Assert
	require.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint(7), sink.events()[0].MessageID)
}

func TestRelay_FullQueueKeepsEventInWAL(t *testing.T) {
	// Arrange
	sink := &fakeSink{}
	wal := openWAL(t)
	opts := fastOptions()
	opts.QueueSize = 1
	r := relay.New(sink, wal, opts)

	// Act
	first := r.Emit(context.Background(), event(1))
	second := r.Emit(context.Background(), event(2))

	// Assert
	require.NoError(t, first)
	assert.ErrorIs(t, second, relay.ErrQueueFull)
	pending, err := wal.Pending(0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// the worker pool and redrive catch up once running
	serve(t, r)
	assert.Eventually(t, func() bool { return len(sink.events()) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestRelay_ReplaysWALOnStart(t *testing.T) {
	// Arrange
	sink := &fakeSink{}
	wal := openWAL(t)
	for i := uint(1); i <= 3; i++ {
		_, err := wal.Write(event(i))
		require.NoError(t, err)
	}
	r := relay.New(sink, wal, fastOptions())

	// Act
	serve(t, r)

	// Assert
	require.Eventually(t, func() bool { return len(sink.events()) == 3 }, time.Second, 5*time.Millisecond)
	var ids []uint
	for _, e := range sink.events() {
		ids = append(ids, e.MessageID)
	}
	assert.ElementsMatch(t, []uint{1, 2, 3}, ids)
}

func TestRelay_ExhaustedRetriesAreRedriven(t *testing.T) {
	// Arrange
	sink := &fakeSink{failures: 4}
	wal := openWAL(t)
	opts := fastOptions()
	opts.MaxAttempts = 2
	opts.BreakerFailures = 100
	r := relay.New(sink, wal, opts)
	serve(t, r)

	// Act
	require.NoError(t, r.Emit(context.Background(), event(9)))

	// Assert
	require.Eventually(t, func() bool { return len(sink.events()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		pending, err := wal.Pending(0)
		return err == nil && len(pending) == 0
	}, time.Second, 5*time.Millisecond)
}
