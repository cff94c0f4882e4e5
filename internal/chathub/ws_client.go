package chathub

import (
	"context"
	"encoding/json"
	"time"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// WebSocketClient реалізує інтерфейс chathub.Client поверх gorilla/websocket.
type WebSocketClient struct {
	*outbox
	Conn *websocket.Conn
	Hub  *ManagerService
}

func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, userID string, buffer int) *WebSocketClient {
	return &WebSocketClient{
		outbox: newOutbox(userID, buffer),
		Conn:   conn,
		Hub:    hub,
	}
}

// Run запускає 'pumps' для WebSocket
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// readPump handles control frames from the client until the connection dies.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Close(c.userID, c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.Hub.Heartbeat(context.Background(), c.userID)
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("user", c.userID).Msg("websocket read failed")
			}
			return
		}

		var frame models.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Debug().Err(err).Str("user", c.userID).Msg("ignoring undecodable frame")
			continue
		}
		c.Hub.HandleFrame(context.Background(), c.userID, frame)
	}
}

// writePump is the only goroutine writing to Conn.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.outbox.Close()
		c.Conn.Close()
	}()

	for {
		select {
		case req := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.Conn.WriteJSON(req.event)
			req.done <- err
			if err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
