package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"talkback/backend/internal/cache"
	"talkback/backend/internal/chat"
	"talkback/backend/internal/config"
	"talkback/backend/internal/logging"
	"talkback/backend/internal/relay"
	"talkback/backend/internal/storage"

	"github.com/redis/go-redis/v9"
)

const usage = `Usage: admin <command> [args]

Commands:
  recompute-unread <room_token> <user_id>   rebuild the unread counter from stored messages
  undelivered <user_id>                     list notifications not yet pushed to the member
  relay-pending <wal_dir>                   list relay events not yet confirmed by the sink`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: "warn", Format: "console"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	command := os.Args[1]
	switch command {
	case "recompute-unread":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin recompute-unread <room_token> <user_id>")
			os.Exit(1)
		}
		n, err := recomputeUnread(ctx, cfg, os.Args[2], os.Args[3])
		if err != nil {
			fatal("recompute unread", err)
		}
		fmt.Printf("Unread counter for %s in %s set to %d.\n", os.Args[3], os.Args[2], n)
	case "undelivered":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin undelivered <user_id>")
			os.Exit(1)
		}
		if err := listUndelivered(ctx, cfg, os.Args[2]); err != nil {
			fatal("list undelivered", err)
		}
	case "relay-pending":
		dir := cfg.Relay.WALDir
		if len(os.Args) == 3 {
			dir = os.Args[2]
		}
		if dir == "" {
			fmt.Println("Usage: admin relay-pending <wal_dir>")
			os.Exit(1)
		}
		if err := listRelayPending(dir); err != nil {
			fatal("list relay pending", err)
		}
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", what, err)
	os.Exit(1)
}

func recomputeUnread(ctx context.Context, cfg *config.Config, roomToken, userID string) (int64, error) {
	st, err := storage.Open(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("connect redis: %w", err)
	}

	svc := chat.NewService(chat.Deps{
		Messages: st.Messages,
		Unread:   cache.NewUnreadCounter(rdb, cfg.Chat.UnreadTTL),
	}, chat.Options{})
	return svc.RecomputeUnread(ctx, roomToken, userID)
}

func listUndelivered(ctx context.Context, cfg *config.Config, userID string) error {
	st, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pending, err := st.Notifications.Undelivered(ctx, userID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Printf("No undelivered notifications for %s.\n", userID)
		return nil
	}
	for _, n := range pending {
		fmt.Printf("%s\t%s\t%s\t%s\n", n.ID, n.CreatedAt.Format(time.RFC3339), n.Type, string(n.Payload))
	}
	return nil
}

// listRelayPending opens the WAL directly, so the server must not hold it.
func listRelayPending(dir string) error {
	wal, err := relay.OpenBadgerWAL(dir)
	if err != nil {
		return err
	}
	defer wal.Close()

	entries, err := wal.Pending(0)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Relay outbox is empty.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\tmessage=%d\troom=%s\n",
			e.WrittenAt.Format(time.RFC3339), e.Event.EventID, e.Event.MessageID, e.Event.RoomToken)
	}
	fmt.Printf("%d pending.\n", len(entries))
	return nil
}
