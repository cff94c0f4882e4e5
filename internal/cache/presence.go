package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// leaveIfCurrent clears the current room only if it still points at ARGV[1],
// so a late "leave" from an old tab cannot erase a newer "enter".
var leaveIfCurrent = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Presence tracks which room a member is viewing and whether their push
// stream is alive.
type Presence struct {
	rdb       redis.Cmdable
	roomTTL   time.Duration
	onlineTTL time.Duration
}

func NewPresence(rdb redis.Cmdable, roomTTL, onlineTTL time.Duration) *Presence {
	return &Presence{rdb: rdb, roomTTL: roomTTL, onlineTTL: onlineTTL}
}

func (p *Presence) Enter(ctx context.Context, userID, roomToken string) error {
	return p.rdb.Set(ctx, currentRoomKey(userID), roomToken, p.roomTTL).Err()
}

func (p *Presence) Leave(ctx context.Context, userID, roomToken string) error {
	return leaveIfCurrent.Run(ctx, p.rdb, []string{currentRoomKey(userID)}, roomToken).Err()
}

// CurrentRoom returns "" when the member is not viewing any room.
func (p *Presence) CurrentRoom(ctx context.Context, userID string) (string, error) {
	room, err := p.rdb.Get(ctx, currentRoomKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return room, err
}

func (p *Presence) IsPresent(ctx context.Context, userID, roomToken string) (bool, error) {
	room, err := p.CurrentRoom(ctx, userID)
	if err != nil {
		return false, err
	}
	return room != "" && room == roomToken, nil
}

// Touch marks the member online and extends the record.
func (p *Presence) Touch(ctx context.Context, userID string) error {
	return p.rdb.Set(ctx, onlineKey(userID), "1", p.onlineTTL).Err()
}

func (p *Presence) SetOffline(ctx context.Context, userID string) error {
	return p.rdb.Del(ctx, onlineKey(userID)).Err()
}

func (p *Presence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.Exists(ctx, onlineKey(userID)).Result()
	return n == 1, err
}
