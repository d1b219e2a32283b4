// Package store persists conversations and API keys on the local machine.
// SQLite is the default backend; Badger is available as an embedded
// key-value alternative.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/playground/internal/domain"
	"github.com/soyeahso/playground/internal/logging"
	"github.com/soyeahso/playground/internal/provider"
)

// SnapshotVersion is the persisted format version this build reads and
// writes.
const SnapshotVersion = 1

// ErrUnsupportedVersion is returned when stored data was written by a newer
// format than this build understands.
var ErrUnsupportedVersion = errors.New("unsupported storage version")

// Snapshot is the persisted state of the conversation store.
type Snapshot struct {
	Version       int                   `json:"version"`
	Active        string                `json:"active,omitempty"`
	Conversations []domain.Conversation `json:"conversations"`
	SavedAt       time.Time             `json:"savedAt"`
}

// Persister loads and saves conversation snapshots.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// KeyStore reads and writes provider API keys. A missing key reads as "".
type KeyStore interface {
	GetKey(id provider.ID) (string, error)
	SetKey(id provider.ID, key string) error
	DeleteKey(id provider.ID) error
}

// Backend is a storage engine providing both persistence and key storage.
type Backend interface {
	Persister
	KeyStore
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Open opens the named backend at path. For sqlite, path is the database
// file; for badger, a directory. ":memory:" opens an in-memory instance of
// either.
func Open(backend, path string, log *logging.Logger) (Backend, error) {
	switch backend {
	case BackendSQLite, "":
		db, err := OpenSQLite(path, log)
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendBadger:
		db, err := OpenBadger(path, log)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
