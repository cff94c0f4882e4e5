// Package relay carries "message created" events from the ingest path to
// downstream consumers with at-least-once delivery.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"talkback/backend/internal/config"
	"talkback/backend/internal/logging"
	"talkback/backend/internal/metrics"
	"talkback/backend/internal/models"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

var ErrQueueFull = errors.New("relay queue is full")

// Sink publishes one event to the outside world.
type Sink interface {
	Publish(ctx context.Context, event models.MessageCreatedEvent) error
	Close() error
}

type Options struct {
	QueueSize       int
	Workers         int
	MaxAttempts     int
	RetryBackoff    time.Duration
	Redrive         time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (o *Options) withDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = config.RelayQueueSize
	}
	if o.Workers <= 0 {
		o.Workers = config.RelayWorkers
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = config.RelayMaxAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = config.RelayRetryBackoff
	}
	if o.Redrive <= 0 {
		o.Redrive = config.RelayRedrive
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
}

// Relay queues events in memory and publishes them from a worker pool.
// With a WAL every event is written before it is queued and removed only
// after the sink accepted it; entries left behind by a crash, a full queue
// or an exhausted retry budget are redriven periodically.
type Relay struct {
	sink    Sink
	wal     WAL
	breaker *gobreaker.CircuitBreaker[any]
	queue   chan Entry
	opts    Options
	log     zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New builds a relay over sink. wal may be nil.
func New(sink Sink, wal WAL, opts Options) *Relay {
	opts.withDefaults()
	log := logging.WithComponent("relay")
	r := &Relay{
		sink:     sink,
		wal:      wal,
		queue:    make(chan Entry, opts.QueueSize),
		opts:     opts,
		log:      log,
		inflight: make(map[string]struct{}),
	}
	r.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "relay-sink",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return r
}

// Emit queues event without blocking. A full queue returns ErrQueueFull;
// with a WAL the event is still kept for redrive.
func (r *Relay) Emit(ctx context.Context, event models.MessageCreatedEvent) error {
	entry := Entry{Event: event, WrittenAt: time.Now().UTC()}
	if r.wal != nil {
		var err error
		if entry, err = r.wal.Write(event); err != nil {
			metrics.RelayFailures.WithLabelValues("wal").Inc()
			return err
		}
	}
	if !r.enqueue(entry) {
		metrics.RelayFailures.WithLabelValues("queue_full").Inc()
		return fmt.Errorf("event %s: %w", event.EventID, ErrQueueFull)
	}
	return nil
}

func (r *Relay) enqueue(e Entry) bool {
	if e.Key != "" {
		r.mu.Lock()
		if _, busy := r.inflight[e.Key]; busy {
			r.mu.Unlock()
			return true
		}
		r.inflight[e.Key] = struct{}{}
		r.mu.Unlock()
	}
	select {
	case r.queue <- e:
		metrics.RelayQueueDepth.Set(float64(len(r.queue)))
		return true
	default:
		r.release(e)
		return false
	}
}

func (r *Relay) release(e Entry) {
	if e.Key == "" {
		return
	}
	r.mu.Lock()
	delete(r.inflight, e.Key)
	r.mu.Unlock()
}

// Serve replays the WAL, runs the workers and redrives leftovers until ctx ends.
func (r *Relay) Serve(ctx context.Context) error {
	r.redrive()

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx)
		}()
	}

	ticker := time.NewTicker(r.opts.Redrive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			r.redrive()
		}
	}
}

func (r *Relay) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.queue:
			metrics.RelayQueueDepth.Set(float64(len(r.queue)))
			r.deliver(ctx, e)
			r.release(e)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, e Entry) {
	log := r.log.With().Str("event_id", e.Event.EventID).Uint("message_id", e.Event.MessageID).Logger()
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		_, err := r.breaker.Execute(func() (any, error) {
			return nil, r.sink.Publish(ctx, e.Event)
		})
		if err == nil {
			metrics.RelayPublished.Inc()
			if r.wal != nil {
				if err := r.wal.Confirm(e.Key); err != nil {
					metrics.RelayFailures.WithLabelValues("wal").Inc()
					log.Warn().Err(err).Msg("wal confirm failed, event may be published again")
				}
			}
			return
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RelayFailures.WithLabelValues("breaker_open").Inc()
			log.Debug().Err(err).Msg("sink breaker open, leaving event for redrive")
			return
		}
		metrics.RelayFailures.WithLabelValues("publish").Inc()
		log.Warn().Err(err).Int("attempt", attempt).Msg("publish failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.opts.RetryBackoff * time.Duration(attempt)):
		}
	}
	if r.wal == nil {
		log.Error().Msg("event dropped after retries")
	}
}

// redrive queues WAL entries that no worker is holding.
func (r *Relay) redrive() {
	if r.wal == nil {
		return
	}
	pending, err := r.wal.Pending(r.opts.QueueSize)
	if err != nil {
		metrics.RelayFailures.WithLabelValues("wal").Inc()
		r.log.Warn().Err(err).Msg("wal scan failed")
		return
	}
	for _, e := range pending {
		if !r.enqueue(e) {
			return
		}
	}
	if len(pending) > 0 {
		r.log.Debug().Int("entries", len(pending)).Msg("redrive scanned wal")
	}
}

// Close closes the sink. Queued events without a WAL are lost.
func (r *Relay) Close() error {
	return r.sink.Close()
}

func (r *Relay) String() string { return "relay" }
