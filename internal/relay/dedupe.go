package relay

import (
	"context"
	"fmt"
	"time"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers processed event ids in Redis for a while.
type Deduper struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewDeduper(rdb redis.Cmdable, ttl time.Duration) *Deduper {
	return &Deduper{rdb: rdb, ttl: ttl}
}

func seenKey(eventID string) string { return "relay:seen:" + eventID }

// Claim reports whether eventID is seen for the first time.
func (d *Deduper) Claim(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, seenKey(eventID), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return ok, nil
}

// Release forgets eventID so a redelivery is processed again.
func (d *Deduper) Release(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, seenKey(eventID)).Err()
}

// Idempotent wraps h so each event id is handled at most once per TTL.
func Idempotent(d *Deduper, h Handler) Handler {
	return func(ctx context.Context, event models.MessageCreatedEvent) error {
		first, err := d.Claim(ctx, event.EventID)
		if err != nil {
			return err
		}
		if !first {
			logging.Debug().Str("event_id", event.EventID).Msg("duplicate event skipped")
			return nil
		}
		if err := h(ctx, event); err != nil {
			if rerr := d.Release(context.WithoutCancel(ctx), event.EventID); rerr != nil {
				logging.Warn().Err(rerr).Str("event_id", event.EventID).Msg("dedupe release failed")
			}
			return err
		}
		return nil
	}
}
