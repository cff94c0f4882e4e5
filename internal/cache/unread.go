package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementIfKnown bumps a counter only while it exists. An expired counter
// stays unknown so the next read recomputes it instead of restarting at 1.
var incrementIfKnown = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local n = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[1])
return n
`)

// UnreadCounter is the per (room, member) unread badge.
type UnreadCounter struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewUnreadCounter(rdb redis.Cmdable, ttl time.Duration) *UnreadCounter {
	return &UnreadCounter{rdb: rdb, ttl: ttl}
}

// Increment adds one unread message. known is false when the counter had
// expired and was left untouched.
func (c *UnreadCounter) Increment(ctx context.Context, roomToken, userID string) (n int64, known bool, err error) {
	n, err = incrementIfKnown.Run(ctx, c.rdb, []string{unreadKey(roomToken, userID)}, int64(c.ttl/time.Second)).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("increment unread %s/%s: %w", roomToken, userID, err)
	}
	if n < 0 {
		return 0, false, nil
	}
	return n, true, nil
}

// Reset sets the counter to a known zero.
func (c *UnreadCounter) Reset(ctx context.Context, roomToken, userID string) error {
	return c.Set(ctx, roomToken, userID, 0)
}

func (c *UnreadCounter) Set(ctx context.Context, roomToken, userID string, n int64) error {
	return c.rdb.Set(ctx, unreadKey(roomToken, userID), n, c.ttl).Err()
}

// Get returns known=false on a miss; callers recompute from the durable store.
func (c *UnreadCounter) Get(ctx context.Context, roomToken, userID string) (n int64, known bool, err error) {
	n, err = c.rdb.Get(ctx, unreadKey(roomToken, userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get unread %s/%s: %w", roomToken, userID, err)
	}
	return n, true, nil
}
