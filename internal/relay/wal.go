package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"talkback/backend/internal/models"

	"github.com/dgraph-io/badger/v4"
)

const walPrefix = "relay:"

// Entry is an event written ahead of publishing. Key orders entries by write time.
type Entry struct {
	Key       string                     `json:"-"`
	Event     models.MessageCreatedEvent `json:"event"`
	WrittenAt time.Time                  `json:"writtenAt"`
}

// WAL keeps events until the sink has confirmed them.
type WAL interface {
	Write(event models.MessageCreatedEvent) (Entry, error)
	Confirm(key string) error
	// Pending returns unconfirmed entries oldest first; limit <= 0 returns all.
	Pending(limit int) ([]Entry, error)
}

// BadgerWAL is a WAL in a badger database.
type BadgerWAL struct {
	db *badger.DB
}

// OpenBadgerWAL opens (or creates) the WAL in dir. An empty dir keeps it in memory.
func OpenBadgerWAL(dir string) (*BadgerWAL, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open relay wal %q: %w", dir, err)
	}
	return &BadgerWAL{db: db}, nil
}

func (w *BadgerWAL) Write(event models.MessageCreatedEvent) (Entry, error) {
	e := Entry{Event: event, WrittenAt: time.Now().UTC()}
	e.Key = fmt.Sprintf("%s%020d:%s", walPrefix, e.WrittenAt.UnixNano(), event.EventID)
	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, err
	}
	err = w.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(e.Key), data)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("wal write %s: %w", event.EventID, err)
	}
	return e, nil
}

func (w *BadgerWAL) Confirm(key string) error {
	return w.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (w *BadgerWAL) Pending(limit int) ([]Entry, error) {
	var out []Entry
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(walPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var e Entry
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return fmt.Errorf("wal entry %s: %w", item.Key(), err)
			}
			e.Key = string(item.KeyCopy(nil))
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (w *BadgerWAL) Close() error {
	return w.db.Close()
}
