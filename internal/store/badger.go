package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/soyeahso/playground/internal/logging"
	"github.com/soyeahso/playground/internal/provider"
)

const (
	badgerSnapshotKey = "snapshot"
	badgerKeyPrefix   = "key/"
)

// Badger stores the snapshot as one versioned JSON document and API keys
// under "key/<provider>".
type Badger struct {
	db  *badger.DB
	log *logging.Logger
}

var _ Backend = (*Badger)(nil)

// OpenBadger opens a Badger database in dir, or an in-memory one when dir
// is ":memory:".
func OpenBadger(dir string, log *logging.Logger) (*Badger, error) {
	l := log.Sub("store.badger")

	var opts badger.Options
	if dir == ":memory:" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating badger directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.
		WithLogger(badgerLogger{log: l}).
		WithLoggingLevel(badger.WARNING).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	l.Debug().Str("dir", dir).Msg("database opened")
	return &Badger{db: db, log: l}, nil
}

// Close flushes and closes the database.
func (b *Badger) Close() error {
	b.log.Debug().Msg("closing database")
	return b.db.Close()
}

// Load reads the snapshot. An empty database yields an empty snapshot.
func (b *Badger) Load(_ context.Context) (Snapshot, error) {
	snap := Snapshot{Version: SnapshotVersion}
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerSnapshotKey))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("reading snapshot: %w", err)
	}
	return decodeSnapshot(raw)
}

// Save writes snap as the current snapshot.
func (b *Badger) Save(_ context.Context, snap Snapshot) error {
	raw, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerSnapshotKey), raw)
	})
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	b.log.Debug().Int("conversations", len(snap.Conversations)).Int("bytes", len(raw)).Msg("snapshot saved")
	return nil
}

// GetKey returns the stored key for a provider, or "".
func (b *Badger) GetKey(id provider.ID) (string, error) {
	var key string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + string(id)))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		key = string(v)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading key for %s: %w", id, err)
	}
	return key, nil
}

// SetKey stores or replaces a provider key.
func (b *Badger) SetKey(id provider.ID, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+string(id)), []byte(key))
	})
	if err != nil {
		return fmt.Errorf("saving key for %s: %w", id, err)
	}
	return nil
}

// DeleteKey removes a provider key.
func (b *Badger) DeleteKey(id provider.ID) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + string(id)))
	})
	if err != nil {
		return fmt.Errorf("deleting key for %s: %w", id, err)
	}
	return nil
}

// KeyProviders lists providers with a stored key.
func (b *Badger) KeyProviders() ([]provider.ID, error) {
	var ids []provider.ID
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(badgerKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, provider.ID(strings.TrimPrefix(string(it.Item().Key()), badgerKeyPrefix)))
		}
		return nil
	})
	return ids, err
}

func encodeSnapshot(snap Snapshot) ([]byte, error) {
	if snap.Version == 0 {
		snap.Version = SnapshotVersion
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d", ErrUnsupportedVersion, snap.Version)
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return raw, nil
}

func decodeSnapshot(raw []byte) (Snapshot, error) {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	if probe.Version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: snapshot version %d", ErrUnsupportedVersion, probe.Version)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

// badgerLogger adapts the zerolog wrapper to badger.Logger.
type badgerLogger struct {
	log *logging.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.log.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.log.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.log.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
