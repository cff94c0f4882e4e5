package chat

import (
	"context"
	"fmt"
	"slices"
	"time"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/metrics"
	"talkback/backend/internal/models"
)

// Recent returns the count most recent messages of the room, oldest first.
// The cache window is used as is; the durable store fills whatever the cache
// cannot, strictly before the oldest cached message.
func (s *Service) Recent(ctx context.Context, roomToken string, count int) ([]models.MessageView, error) {
	count = s.pageSize(count)

	cached, err := s.Cache.Recent(ctx, roomToken, count)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("room", roomToken).Msg("recent cache read failed, using durable store")
		cached = nil
	}
	if len(cached) >= count {
		metrics.RecentCacheHits.Inc()
		return views(cached[len(cached)-count:]), nil
	}
	metrics.RecentCacheMisses.Inc()

	var before time.Time
	var beforeID uint
	if len(cached) > 0 {
		before, beforeID = cached[0].SentAt, cached[0].ID
	}
	older, err := s.Messages.MessagesBefore(ctx, roomToken, before, beforeID, count-len(cached))
	if err != nil {
		return nil, fmt.Errorf("recent messages of %s: %w", roomToken, err)
	}
	slices.Reverse(older)
	return views(merge(older, cached)), nil
}

// Previous pages backwards through history from the durable store only.
// beforeID breaks ties between messages sharing the before timestamp; zero
// means every message at before is excluded.
func (s *Service) Previous(ctx context.Context, roomToken string, before time.Time, beforeID uint, size int) ([]models.MessageView, error) {
	size = s.pageSize(size)
	if before.IsZero() {
		before = time.Now().UTC()
		beforeID = 0
	}
	msgs, err := s.Messages.MessagesBefore(ctx, roomToken, before, beforeID, size)
	if err != nil {
		return nil, fmt.Errorf("previous messages of %s: %w", roomToken, err)
	}
	slices.Reverse(msgs)
	return views(msgs), nil
}

// merge splices two ascending runs and drops repeated ids.
func merge(older, newer []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(older)+len(newer))
	seen := make(map[uint]struct{}, cap(out))
	for _, run := range [][]models.ChatMessage{older, newer} {
		for _, m := range run {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b models.ChatMessage) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
	return out
}

func views(msgs []models.ChatMessage) []models.MessageView {
	out := make([]models.MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = m.View()
	}
	return out
}
