package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talkback/backend/internal/api/handler"
	"talkback/backend/internal/cache"
	"talkback/backend/internal/chat"
	"talkback/backend/internal/chathub"
	"talkback/backend/internal/config"
	"talkback/backend/internal/logging"
	"talkback/backend/internal/members"
	"talkback/backend/internal/models"
	"talkback/backend/internal/notification"
	"talkback/backend/internal/relay"
	"talkback/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"
)

func setupRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}

// setupRelay builds the relay sink and, for NATS with consumer_enabled, the
// consumer that logs relayed events once each.
func setupRelay(ctx context.Context, cfg config.RelayConfig, rdb redis.Cmdable) (relay.Sink, suture.Service, error) {
	switch cfg.Sink {
	case "kafka":
		sink, err := relay.NewKafkaSink(cfg.KafkaBrokers, cfg.Topic)
		return sink, nil, err
	case "nats":
		nc, err := relay.ConnectNATS(cfg.NATSURL, "talkback-relay")
		if err != nil {
			return nil, nil, err
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("jetstream: %w", err)
		}
		if _, err := relay.EnsureStream(ctx, js, cfg.NATSStream, cfg.Topic); err != nil {
			nc.Close()
			return nil, nil, err
		}
		sink := relay.NewNATSSink(nc, js, cfg.Topic)
		if !cfg.ConsumerEnabled {
			return sink, nil, nil
		}
		h := relay.Idempotent(relay.NewDeduper(rdb, cfg.DedupeTTL), logRelayed)
		return sink, relay.NewNATSConsumer(js, cfg.NATSStream, "talkback-log", cfg.Topic, h), nil
	default:
		return relay.LogSink{}, nil, nil
	}
}

func logRelayed(ctx context.Context, event models.MessageCreatedEvent) error {
	logging.Info().
		Str("event_id", event.EventID).
		Str("room", event.RoomToken).
		Uint("message_id", event.MessageID).
		Msg("relayed message consumed")
	return nil
}

// httpService runs the gin server under the supervisor.
type httpService struct {
	server *http.Server
}

func (s *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *httpService) String() string { return "http-server" }

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Caller: cfg.Log.Caller})
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	logging.Info().Str("addr", cfg.Server.Addr).Str("messages", cfg.Storage.Messages).Msg("starting talkback backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Ініціалізація залежностей
	st, err := storage.Open(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("storage setup failed")
	}
	defer st.Close()

	rdb, err := setupRedis(ctx, cfg.Redis)
	if err != nil {
		logging.Fatal().Err(err).Msg("redis setup failed")
	}
	defer rdb.Close()

	recent := cache.NewRecentMessages(rdb, cfg.Chat.RecentCacheSize, cfg.Chat.RecentCacheTTL)
	unread := cache.NewUnreadCounter(rdb, cfg.Chat.UnreadTTL)
	presence := cache.NewPresence(rdb, cfg.Chat.PresenceTTL, cfg.Chat.OnlineTTL)
	resolver := members.NewCachedResolver(members.NewStoreResolver(st.Members), rdb, config.MemberCacheTTL)

	// 2. Push-хаб, сповіщення і relay
	hub := chathub.NewManagerService(presence, chathub.Options{
		ProbeInterval: cfg.Push.ProbeInterval,
		MaxLifetime:   cfg.Push.MaxLifetime,
	})
	notes := notification.NewService(st.Notifications, hub)
	hub.SetBacklogFlusher(notes.FlushBacklog)

	sink, consumer, err := setupRelay(ctx, cfg.Relay, rdb)
	if err != nil {
		logging.Fatal().Err(err).Str("sink", cfg.Relay.Sink).Msg("relay sink setup failed")
	}
	wal, err := relay.OpenBadgerWAL(cfg.Relay.WALDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("relay wal setup failed")
	}
	defer wal.Close()
	rel := relay.New(sink, wal, relay.Options{
		QueueSize:       cfg.Relay.QueueSize,
		Workers:         cfg.Relay.Workers,
		MaxAttempts:     cfg.Relay.MaxAttempts,
		RetryBackoff:    cfg.Relay.RetryBackoff,
		Redrive:         cfg.Relay.Redrive,
		BreakerFailures: cfg.Relay.BreakerFailures,
		BreakerTimeout:  cfg.Relay.BreakerTimeout,
	})
	defer func() {
		if err := rel.Close(); err != nil {
			logging.Warn().Err(err).Msg("relay close failed")
		}
	}()

	chatSvc := chat.NewService(chat.Deps{
		Messages: st.Messages,
		Rooms:    st.Rooms,
		Members:  resolver,
		Cache:    recent,
		Unread:   unread,
		Presence: presence,
		Notifier: notes,
		Live:     hub,
		Relay:    rel,
	}, chat.Options{
		DefaultPageSize:  cfg.Chat.DefaultPageSize,
		MaxContentLength: cfg.Chat.MaxContentLength,
	})
	hub.SetFrameHandler(chatSvc)

	// 3. HTTP
	auth := handler.NewAuthenticator(cfg.Server.JWTSecret, cfg.Server.JWTIssuer, cfg.Server.TokenTTL)
	h := handler.NewHandler(chatSvc, notes, hub, st.Members, auth, cfg.Push.SendBuffer)
	server := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        handler.NewRouter(h, handler.RouterOptions{
			IssueTokens: cfg.Server.IssueTokens,
			CORSOrigins: cfg.Server.CORSOrigins,
		}),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	// 4. Супервізор довготривалих сервісів
	sup := suture.New("talkback", suture.Spec{
		EventHook: func(e suture.Event) {
			logging.Warn().Fields(e.Map()).Msg(e.String())
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
	sup.Add(hub)
	sup.Add(rel)
	if consumer != nil {
		sup.Add(consumer)
	}
	sup.Add(&httpService{server: server})

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped with error")
	}

	if unstopped, err := sup.UnstoppedServiceReport(); err == nil {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}
	logging.Info().Msg("talkback backend stopped")
}
