package relay

import (
	"context"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/models"
)

// LogSink writes events to the log. Used when no broker is configured.
type LogSink struct{}

func (LogSink) Publish(ctx context.Context, event models.MessageCreatedEvent) error {
	logging.Info().
		Str("event_id", event.EventID).
		Uint("message_id", event.MessageID).
		Str("room", event.RoomToken).
		Str("sender", event.SenderID).
		Time("sent_at", event.SentAt).
		Msg("message created")
	return nil
}

func (LogSink) Close() error { return nil }
