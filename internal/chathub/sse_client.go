package chathub

import (
	"io"
	"net/http"

	"talkback/backend/internal/models"

	"github.com/gin-contrib/sse"
)

// SSEClient streams events as text/event-stream on an HTTP response.
// The HTTP handler must not return before Wait does.
type SSEClient struct {
	*outbox
	w       io.Writer
	stopped chan struct{}
}

func NewSSEClient(userID string, w io.Writer, buffer int) *SSEClient {
	return &SSEClient{
		outbox:  newOutbox(userID, buffer),
		w:       w,
		stopped: make(chan struct{}),
	}
}

func (c *SSEClient) Run() {
	go c.writeLoop()
}

// Wait blocks until the writer goroutine has exited.
func (c *SSEClient) Wait() {
	<-c.stopped
}

func (c *SSEClient) writeLoop() {
	defer close(c.stopped)
	defer c.outbox.Close()

	for {
		select {
		case req := <-c.send:
			err := c.write(req.event)
			req.done <- err
			if err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *SSEClient) write(event models.PushEvent) error {
	err := sse.Encode(c.w, sse.Event{
		Id:    event.EventID,
		Event: event.EventType,
		Data:  event.Payload,
	})
	if err != nil {
		return err
	}
	if f, ok := c.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
