package handler

import (
	"context"
	"net/http"
	"time"

	"talkback/backend/internal/chathub"
	"talkback/backend/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Дозволяє з'єднання з будь-якого домену. У продакшені налаштувати!
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket і реєструє потік у хабі
func (h *Handler) ServeWebSocket(c *gin.Context) {
	member := memberID(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already replied to the client
		logging.Ctx(c.Request.Context()).Warn().Err(err).Str("user", member).Msg("websocket upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, member, h.SendBuffer)
	// the hijacked connection outlives this handler
	h.Hub.Open(context.WithoutCancel(c.Request.Context()), client)
}

// ServeSSE streams push events as text/event-stream until the client goes
// away or the hub closes the stream.
func (h *Handler) ServeSSE(c *gin.Context) {
	member := memberID(c)
	ctx := c.Request.Context()

	// стрім живе довше за WriteTimeout сервера
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	client := chathub.NewSSEClient(member, c.Writer, h.SendBuffer)
	h.Hub.Open(ctx, client)

	select {
	case <-ctx.Done():
	case <-client.Done():
	}
	h.Hub.Close(member, client)
	client.Wait()
}

// Heartbeat refreshes the member's online record.
func (h *Handler) Heartbeat(c *gin.Context) {
	h.Hub.Heartbeat(c.Request.Context(), memberID(c))
	c.Status(http.StatusNoContent)
}
