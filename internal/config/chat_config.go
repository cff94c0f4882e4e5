package config

import "time"

const (
	// Recent-message cache
	RecentCacheSize = 30
	RecentCacheTTL  = 10 * time.Minute

	// Presence
	PresenceTTL = 10 * time.Minute
	OnlineTTL   = 2 * time.Minute
	UnreadTTL   = 10 * time.Minute

	// Member profiles
	MemberCacheTTL = 10 * time.Minute

	// Read model
	DefaultPageSize   = 30
	MaxPageSize       = 100
	MaxContentLength  = 2000
	NotificationPage  = 20
	MaxNotificationPg = 50

	// Push stream
	ProbeInterval     = 15 * time.Second
	MaxStreamLifetime = 6 * time.Hour
	SendBuffer        = 256

	// Relay
	RelayTopic        = "chat.message.created"
	RelayQueueSize    = 1024
	RelayWorkers      = 4
	RelayDedupeTTL    = 24 * time.Hour
	RelayRedrive      = 30 * time.Second
	RelayMaxAttempts  = 3
	RelayRetryBackoff = 200 * time.Millisecond
)
