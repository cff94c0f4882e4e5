package storage

import (
	"context"
	"fmt"

	"talkback/backend/internal/config"
	"talkback/backend/internal/logging"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Backends groups the stores selected by storage.messages.
type Backends struct {
	Messages      MessageStore
	Rooms         RoomStore
	Notifications NotificationStore
	Members       MemberStore

	closers []func()
}

// Close releases every connection Open made, most recent first.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Open connects the configured backends. "memory" keeps everything in process;
// "postgres" keeps everything in PostgreSQL; "mongo" moves message history to
// MongoDB and keeps the rest in PostgreSQL.
func Open(ctx context.Context, cfg *config.Config) (*Backends, error) {
	if cfg.Storage.Messages == "memory" {
		mem := NewMemoryStore()
		logging.Warn().Msg("using in-memory storage, data is lost on restart")
		return &Backends{Messages: mem, Rooms: mem, Notifications: mem, Members: mem}, nil
	}

	// PostgreSQL: кімнати, учасники, сповіщення (і повідомлення за замовчуванням)
	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	b := &Backends{}
	b.closers = append(b.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	pg := NewStorageService(db)
	if err := pg.AutoMigrate(); err != nil {
		b.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	b.Messages, b.Rooms, b.Notifications, b.Members = pg, pg, pg, pg
	if cfg.Storage.Messages != "mongo" {
		return b, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	b.closers = append(b.closers, func() { _ = client.Disconnect(context.Background()) })

	ms := NewMongoMessageStore(client.Database(cfg.Mongo.Database))
	if err := ms.EnsureIndexes(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("create mongo indexes: %w", err)
	}
	b.Messages = ms
	return b, nil
}
