package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types sent over the push stream.
const (
	EventPing    = "ping"
	EventMessage = "message"
)

// PushEvent is one frame on a member's push stream.
type PushEvent struct {
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
	Payload   any    `json:"payload"`
}

// NotificationEvent wraps a stored notification for the push stream.
// The event id is the notification id so clients can de-duplicate re-pushes.
func NotificationEvent(n *Notification) PushEvent {
	return PushEvent{
		EventID:   n.ID,
		EventType: strings.ToLower(string(n.Type)),
		Payload:   json.RawMessage(n.Payload),
	}
}

// ClientFrame is a control frame read from a WebSocket client.
type ClientFrame struct {
	Type      string `json:"type"` // "heartbeat", "enter", "leave"
	RoomToken string `json:"roomToken,omitempty"`
}

// MessageCreatedEvent is published to the relay after a message is persisted.
type MessageCreatedEvent struct {
	EventID    string    `json:"eventId"`
	MessageID  uint      `json:"messageId"`
	RoomToken  string    `json:"roomToken"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sentAt"`
}

// NewMessageCreatedEvent derives the event id from the message id, so every
// emission for one message carries the same id.
func NewMessageCreatedEvent(m ChatMessage) MessageCreatedEvent {
	return MessageCreatedEvent{
		EventID:    uuid.NewSHA1(uuid.NameSpaceOID, []byte("chat-message:"+strconv.FormatUint(uint64(m.ID), 10))).String(),
		MessageID:  m.ID,
		RoomToken:  m.RoomToken,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		SentAt:     m.SentAt,
	}
}
