package chathub

import (
	"context"
	"sync"
	"time"

	"talkback/backend/internal/logging"
	"talkback/backend/internal/models"
)

var pingEvent = models.PushEvent{EventType: models.EventPing, Payload: "keep-alive"}

// Serve runs the liveness prober until ctx is cancelled: every ProbeInterval
// each stream gets a ping, and streams past MaxLifetime are closed.
func (m *ManagerService) Serve(ctx context.Context) error {
	interval := m.opts.ProbeInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return ctx.Err()
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe pings every registered stream once.
func (m *ManagerService) Probe(ctx context.Context) {
	var wg sync.WaitGroup
	for userID, c := range m.snapshot() {
		if m.opts.MaxLifetime > 0 && time.Since(c.ConnectedAt()) > m.opts.MaxLifetime {
			logging.Info().Str("user", userID).Msg("push stream reached max lifetime")
			m.Close(userID, c)
			continue
		}
		wg.Add(1)
		go func(userID string, c Client) {
			defer wg.Done()
			if err := c.Send(pingEvent); err != nil {
				logging.Debug().Err(err).Str("user", userID).Msg("liveness probe failed")
				m.Close(userID, c)
				return
			}
			m.Heartbeat(ctx, userID)
		}(userID, c)
	}
	wg.Wait()
}
