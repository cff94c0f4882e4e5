package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// RecentMessages keeps the last Size messages of each room in a Redis list,
// oldest at the head.
type RecentMessages struct {
	rdb  redis.Cmdable
	size int
	ttl  time.Duration
}

func NewRecentMessages(rdb redis.Cmdable, size int, ttl time.Duration) *RecentMessages {
	return &RecentMessages{rdb: rdb, size: size, ttl: ttl}
}

// Append pushes msg and trims the list in one transaction.
func (c *RecentMessages) Append(ctx context.Context, msg models.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %d: %w", msg.ID, err)
	}
	key := recentKey(msg.RoomToken)
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -int64(c.size), -1)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append recent for room %s: %w", msg.RoomToken, err)
	}
	return nil
}

// Recent returns up to n cached messages of the room ordered by (SentAt, ID).
func (c *RecentMessages) Recent(ctx context.Context, roomToken string, n int) ([]models.ChatMessage, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := c.rdb.LRange(ctx, recentKey(roomToken), -int64(n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent for room %s: %w", roomToken, err)
	}
	out := make([]models.ChatMessage, 0, len(raw))
	seen := make(map[uint]struct{}, len(raw))
	for _, item := range raw {
		var m models.ChatMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			logging.Warn().Err(err).Str("room", roomToken).Msg("skipping undecodable cached message")
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	// concurrent appends may land out of order
	slices.SortFunc(out, compareMessages)
	return out, nil
}

// Evict drops the room's window; it is rebuilt by later appends.
func (c *RecentMessages) Evict(ctx context.Context, roomToken string) error {
	return c.rdb.Del(ctx, recentKey(roomToken)).Err()
}

func compareMessages(a, b models.ChatMessage) int {
	switch {
	case a.Before(b):
		return -1
	case b.Before(a):
		return 1
	}
	return 0
}
