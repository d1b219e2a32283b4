package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/playground/internal/provider"
)

// GetKey returns the stored key for a provider, or "" when none is set.
func (db *SQLite) GetKey(id provider.ID) (string, error) {
	var key string
	err := db.sql.QueryRow(`SELECT api_key FROM api_keys WHERE provider = ?`, string(id)).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading key for %s: %w", id, err)
	}
	return key, nil
}

// SetKey stores or replaces a provider key.
func (db *SQLite) SetKey(id provider.ID, key string) error {
	_, err := db.sql.Exec(
		`INSERT INTO api_keys (provider, api_key, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(provider) DO UPDATE SET api_key = excluded.api_key, updated_at = excluded.updated_at`,
		string(id), key, time.Now().UTC().Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("saving key for %s: %w", id, err)
	}
	return nil
}

// DeleteKey removes a provider key. Removing a missing key is not an error.
func (db *SQLite) DeleteKey(id provider.ID) error {
	if _, err := db.sql.Exec(`DELETE FROM api_keys WHERE provider = ?`, string(id)); err != nil {
		return fmt.Errorf("deleting key for %s: %w", id, err)
	}
	return nil
}
