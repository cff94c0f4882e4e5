package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TALKBACK_"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Postgres PostgresConfig `koanf:"postgres"`
	Mongo    MongoConfig    `koanf:"mongo"`
	Redis    RedisConfig    `koanf:"redis"`
	Chat     ChatConfig     `koanf:"chat"`
	Push     PushConfig     `koanf:"push"`
	Relay    RelayConfig    `koanf:"relay"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	JWTSecret    string        `koanf:"jwt_secret"`
	JWTIssuer    string        `koanf:"jwt_issuer"`
	TokenTTL     time.Duration `koanf:"token_ttl"`
	// IssueTokens enables POST /auth/token for local development.
	IssueTokens bool     `koanf:"issue_tokens"`
	CORSOrigins []string `koanf:"cors_origins"`
}

type StorageConfig struct {
	// Messages selects the durable message store: postgres, mongo or memory.
	Messages string `koanf:"messages"`
}

type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

type MongoConfig struct {
	URI      string `koanf:"uri"`
	Database string `koanf:"database"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type ChatConfig struct {
	RecentCacheSize  int           `koanf:"recent_cache_size"`
	RecentCacheTTL   time.Duration `koanf:"recent_cache_ttl"`
	PresenceTTL      time.Duration `koanf:"presence_ttl"`
	OnlineTTL        time.Duration `koanf:"online_ttl"`
	UnreadTTL        time.Duration `koanf:"unread_ttl"`
	DefaultPageSize  int           `koanf:"default_page_size"`
	MaxContentLength int           `koanf:"max_content_length"`
}

type PushConfig struct {
	ProbeInterval time.Duration `koanf:"probe_interval"`
	MaxLifetime   time.Duration `koanf:"max_lifetime"`
	SendBuffer    int           `koanf:"send_buffer"`
}

type RelayConfig struct {
	Sink         string        `koanf:"sink"` // kafka, nats or log
	Topic        string        `koanf:"topic"`
	QueueSize    int           `koanf:"queue_size"`
	Workers      int           `koanf:"workers"`
	MaxAttempts  int           `koanf:"max_attempts"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
	Redrive      time.Duration `koanf:"redrive"`
	WALDir       string        `koanf:"wal_dir"`
	KafkaBrokers []string      `koanf:"kafka_brokers"`
	NATSURL      string        `koanf:"nats_url"`
	NATSStream   string        `koanf:"nats_stream"`
	// ConsumerEnabled starts the built-in JetStream consumer that logs relayed events.
	ConsumerEnabled bool          `koanf:"consumer_enabled"`
	DedupeTTL       time.Duration `koanf:"dedupe_ttl"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			JWTIssuer:    "talkback-service",
			TokenTTL:     72 * time.Hour,
			CORSOrigins:  []string{"*"},
		},
		Storage:  StorageConfig{Messages: "postgres"},
		Postgres: PostgresConfig{DSN: "host=localhost user=user password=password dbname=talkback port=5432 sslmode=disable"},
		Mongo:    MongoConfig{URI: "mongodb://localhost:27017", Database: "talkback"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Chat: ChatConfig{
			RecentCacheSize:  RecentCacheSize,
			RecentCacheTTL:   RecentCacheTTL,
			PresenceTTL:      PresenceTTL,
			OnlineTTL:        OnlineTTL,
			UnreadTTL:        UnreadTTL,
			DefaultPageSize:  DefaultPageSize,
			MaxContentLength: MaxContentLength,
		},
		Push: PushConfig{
			ProbeInterval: ProbeInterval,
			MaxLifetime:   MaxStreamLifetime,
			SendBuffer:    SendBuffer,
		},
		Relay: RelayConfig{
			Sink:            "log",
			Topic:           RelayTopic,
			QueueSize:       RelayQueueSize,
			Workers:         RelayWorkers,
			MaxAttempts:     RelayMaxAttempts,
			RetryBackoff:    RelayRetryBackoff,
			Redrive:         RelayRedrive,
			KafkaBrokers:    []string{"localhost:9092"},
			NATSURL:         "nats://localhost:4222",
			NATSStream:      "CHAT",
			DedupeTTL:       RelayDedupeTTL,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	cfg, err := Read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read builds the configuration without validating it: defaults, then the
// YAML file named by CONFIG_PATH (or ./config.yaml when present), then
// TALKBACK_* variables. Nested keys use a double underscore: TALKBACK_REDIS__ADDR.
func Read() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.JWTSecret == "" {
		errs = append(errs, errors.New("server.jwt_secret is required"))
	}
	switch c.Storage.Messages {
	case "postgres", "mongo", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.messages: unknown backend %q", c.Storage.Messages))
	}
	switch c.Relay.Sink {
	case "kafka", "nats", "log":
	default:
		errs = append(errs, fmt.Errorf("relay.sink: unknown sink %q", c.Relay.Sink))
	}
	if c.Chat.RecentCacheSize <= 0 {
		errs = append(errs, errors.New("chat.recent_cache_size must be positive"))
	}
	if c.Relay.QueueSize <= 0 || c.Relay.Workers <= 0 {
		errs = append(errs, errors.New("relay.queue_size and relay.workers must be positive"))
	}
	return errors.Join(errs...)
}
