// Package members resolves member ids to display profiles. Profiles are owned
// by another service; this package only reads them.
package members

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/models"
	"talkback/backend/internal/storage"

	"github.com/redis/go-redis/v9"
)

var ErrMemberNotFound = errors.New("member not found")

// Resolver looks up a member profile.
type Resolver interface {
	Resolve(ctx context.Context, memberID string) (models.Member, error)
}

// StoreResolver reads profiles from the member table.
type StoreResolver struct {
	store storage.MemberStore
}

func NewStoreResolver(store storage.MemberStore) *StoreResolver {
	return &StoreResolver{store: store}
}

func (r *StoreResolver) Resolve(ctx context.Context, memberID string) (models.Member, error) {
	m, err := r.store.MemberByID(ctx, memberID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Member{}, fmt.Errorf("%s: %w", memberID, ErrMemberNotFound)
	}
	if err != nil {
		return models.Member{}, err
	}
	return *m, nil
}

// CachedResolver keeps resolved profiles in Redis for ttl.
type CachedResolver struct {
	next Resolver
	rdb  redis.Cmdable
	ttl  time.Duration
}

func NewCachedResolver(next Resolver, rdb redis.Cmdable, ttl time.Duration) *CachedResolver {
	return &CachedResolver{next: next, rdb: rdb, ttl: ttl}
}

func memberKey(id string) string { return "member:profile:" + id }

func (r *CachedResolver) Resolve(ctx context.Context, memberID string) (models.Member, error) {
	raw, err := r.rdb.Get(ctx, memberKey(memberID)).Bytes()
	if err == nil {
		var m models.Member
		if jsonErr := json.Unmarshal(raw, &m); jsonErr == nil {
			return m, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.Warn().Err(err).Str("user", memberID).Msg("member cache read failed")
	}

	m, err := r.next.Resolve(ctx, memberID)
	if err != nil {
		return models.Member{}, err
	}
	if data, err := json.Marshal(m); err == nil {
		if err := r.rdb.Set(ctx, memberKey(memberID), data, r.ttl).Err(); err != nil {
			logging.Warn().Err(err).Str("user", memberID).Msg("member cache write failed")
		}
	}
	return m, nil
}
