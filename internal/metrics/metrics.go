package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest
	MessagesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talkback_messages_submitted_total",
			Help: "Messages accepted and durably stored",
		},
	)

	// stage: validate, persist, cache, presence, unread, notify, relay
	SubmitFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkback_submit_failures_total",
			Help: "Ingest failures by pipeline stage",
		},
		[]string{"stage"},
	)

	SubmitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "talkback_submit_duration_seconds",
			Help:    "End-to-end duration of message submission",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Read model
	RecentCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talkback_recent_cache_hits_total",
			Help: "Recent reads fully served from the cache",
		},
	)

	RecentCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talkback_recent_cache_misses_total",
			Help: "Recent reads that needed the durable store",
		},
	)

	// Push
	PushResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkback_push_results_total",
			Help: "Push attempts by outcome",
		},
		[]string{"result"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "talkback_active_streams",
			Help: "Currently registered push streams",
		},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkback_notifications_created_total",
			Help: "Notifications stored by type",
		},
		[]string{"type"},
	)

	NotificationsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talkback_notifications_delivered_total",
			Help: "Notifications marked delivered",
		},
	)

	// Relay
	RelayPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "talkback_relay_published_total",
			Help: "Events published to the sink",
		},
	)

	RelayFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkback_relay_failures_total",
			Help: "Relay failures by reason",
		},
		[]string{"reason"}, // queue_full, publish, wal
	)

	RelayQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "talkback_relay_queue_depth",
			Help: "Events waiting in the relay queue",
		},
	)

	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talkback_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveSince records the elapsed time since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
