package chathub

import (
	"errors"
	"sync"
	"time"

	"talkback/backend/internal/models"
)

var (
	ErrClientClosed = errors.New("push stream closed")
	ErrSendTimeout  = errors.New("push stream send timed out")
)

// Client is one open push stream (WebSocket or SSE) of a member.
type Client interface {
	// GetUserID returns the member the stream belongs to.
	GetUserID() string
	// ConnectedAt is when the stream was opened; the prober closes streams
	// older than the configured lifetime.
	ConnectedAt() time.Time

	// Send writes one event and waits for the transport to accept it.
	// A non-nil error means the stream is unusable.
	Send(event models.PushEvent) error

	// Run starts the client's pumps.
	Run()
	// Close shuts the stream down. Safe to call more than once.
	Close()
	// Done is closed once the stream is shut down.
	Done() <-chan struct{}
}

type outbound struct {
	event models.PushEvent
	done  chan error
}

// outbox is the part shared by every transport: a bounded queue drained by a
// single writer goroutine, which reports each write result back to Send.
type outbox struct {
	userID      string
	connectedAt time.Time
	send        chan outbound
	closed      chan struct{}
	closeOnce   sync.Once
}

func newOutbox(userID string, buffer int) *outbox {
	if buffer <= 0 {
		buffer = 1
	}
	return &outbox{
		userID:      userID,
		connectedAt: time.Now(),
		send:        make(chan outbound, buffer),
		closed:      make(chan struct{}),
	}
}

func (o *outbox) GetUserID() string      { return o.userID }
func (o *outbox) ConnectedAt() time.Time { return o.connectedAt }
func (o *outbox) Done() <-chan struct{}  { return o.closed }

func (o *outbox) Close() {
	o.closeOnce.Do(func() { close(o.closed) })
}

func (o *outbox) Send(event models.PushEvent) error {
	req := outbound{event: event, done: make(chan error, 1)}
	timer := time.NewTimer(writeWait)
	defer timer.Stop()

	select {
	case o.send <- req:
	case <-o.closed:
		return ErrClientClosed
	case <-timer.C:
		return ErrSendTimeout
	}

	select {
	case err := <-req.done:
		return err
	case <-o.closed:
		return ErrClientClosed
	}
}
