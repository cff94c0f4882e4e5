package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
}

// EnsureStream creates or updates the stream holding subject. The duplicate
// window lets JetStream drop re-published events carrying the same id.
func EnsureStream(ctx context.Context, js jetstream.JetStream, stream, subject string) (jetstream.Stream, error) {
	s, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       stream,
		Subjects:   []string{subject},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", stream, err)
	}
	return s, nil
}

// NATSSink publishes events to a JetStream subject with the event id as
// Nats-Msg-Id.
type NATSSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
}

func NewNATSSink(nc *nats.Conn, js jetstream.JetStream, subject string) *NATSSink {
	return &NATSSink{nc: nc, js: js, subject: subject}
}

func (s *NATSSink) Publish(ctx context.Context, event models.MessageCreatedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(s.subject)
	msg.Data = data
	msg.Header.Set(jetstream.MsgIDHeader, event.EventID)

	ack, err := s.js.PublishMsg(ctx, msg)
	if err != nil {
		return err
	}
	if ack.Duplicate {
		logging.Debug().Str("event_id", event.EventID).Msg("jetstream dropped duplicate event")
	}
	return nil
}

// Close drains the connection when the sink owns one.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}

// Handler processes one relayed event.
type Handler func(ctx context.Context, event models.MessageCreatedEvent) error

// NATSConsumer feeds a durable JetStream consumer into a Handler. Handler
// errors are NAKed for redelivery; malformed payloads are terminated.
type NATSConsumer struct {
	js      jetstream.JetStream
	stream  string
	durable string
	subject string
	handle  Handler
}

func NewNATSConsumer(js jetstream.JetStream, stream, durable, subject string, h Handler) *NATSConsumer {
	return &NATSConsumer{js: js, stream: stream, durable: durable, subject: subject, handle: h}
}

func (c *NATSConsumer) Serve(ctx context.Context) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.stream, jetstream.ConsumerConfig{
		Durable:       c.durable,
		FilterSubject: c.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
	})
	if err != nil {
		return fmt.Errorf("consumer %s: %w", c.durable, err)
	}

	log := logging.WithComponent("relay-consumer")
	cc, err := cons.Consume(func(m jetstream.Msg) {
		var event models.MessageCreatedEvent
		if err := json.Unmarshal(m.Data(), &event); err != nil {
			log.Error().Err(err).Str("subject", m.Subject()).Msg("malformed event")
			_ = m.Term()
			return
		}
		if err := c.handle(ctx, event); err != nil {
			log.Warn().Err(err).Str("event_id", event.EventID).Msg("event handler failed, requesting redelivery")
			_ = m.Nak()
			return
		}
		_ = m.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.durable, err)
	}
	defer cc.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cc.Closed():
		return errors.New("jetstream consume loop closed")
	}
}

func (c *NATSConsumer) String() string { return "relay-consumer:" + c.durable }
