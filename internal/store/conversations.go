package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/playground/internal/domain"
)

const metaActive = "active_conversation"

// Load reads every conversation with its messages in stored order.
func (db *SQLite) Load(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Version: SnapshotVersion, Conversations: []domain.Conversation{}}

	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations ORDER BY updated_at DESC, id`)
	if err != nil {
		return snap, fmt.Errorf("querying conversations: %w", err)
	}
	index := make(map[string]int)
	for rows.Next() {
		var c domain.Conversation
		var created, updated string
		if err := rows.Scan(&c.ID, &c.Title, &created, &updated); err != nil {
			rows.Close()
			return snap, fmt.Errorf("scanning conversation: %w", err)
		}
		c.CreatedAt = parseTime(created)
		c.UpdatedAt = parseTime(updated)
		c.Messages = []domain.Message{}
		index[c.ID] = len(snap.Conversations)
		snap.Conversations = append(snap.Conversations, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("reading conversations: %w", err)
	}

	rows, err = db.sql.QueryContext(ctx,
		`SELECT conversation_id, id, role, content, parts, timestamp, thumbs, reactions, starred, status, tool_calls, model
		 FROM messages ORDER BY conversation_id, position`)
	if err != nil {
		return snap, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var convID, ts, thumbs, status string
		var parts, reactions, toolCalls sql.NullString
		var starred int
		var m domain.Message
		if err := rows.Scan(&convID, &m.ID, &m.Role, &m.Content, &parts, &ts, &thumbs,
			&reactions, &starred, &status, &toolCalls, &m.Model); err != nil {
			return snap, fmt.Errorf("scanning message: %w", err)
		}
		m.Timestamp = parseTime(ts)
		m.Thumbs = domain.Thumbs(thumbs)
		m.Status = domain.MessageStatus(status)
		m.Starred = starred != 0
		if err := unmarshalColumn(parts, &m.Parts); err != nil {
			return snap, fmt.Errorf("message %s parts: %w", m.ID, err)
		}
		if err := unmarshalColumn(reactions, &m.Reactions); err != nil {
			return snap, fmt.Errorf("message %s reactions: %w", m.ID, err)
		}
		if err := unmarshalColumn(toolCalls, &m.ToolCalls); err != nil {
			return snap, fmt.Errorf("message %s tool calls: %w", m.ID, err)
		}

		i, ok := index[convID]
		if !ok {
			continue
		}
		snap.Conversations[i].Messages = append(snap.Conversations[i].Messages, m)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("reading messages: %w", err)
	}

	err = db.sql.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaActive).Scan(&snap.Active)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("reading active conversation: %w", err)
	}

	db.log.Debug().Int("conversations", len(snap.Conversations)).Msg("snapshot loaded")
	return snap, nil
}

// Save replaces the stored conversations with snap in one transaction.
func (db *SQLite) Save(ctx context.Context, snap Snapshot) error {
	if snap.Version > SnapshotVersion {
		return fmt.Errorf("%w: snapshot version %d", ErrUnsupportedVersion, snap.Version)
	}

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clearing conversations: %w", err)
	}

	convStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing conversation insert: %w", err)
	}
	defer convStmt.Close()

	msgStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (id, conversation_id, position, role, content, parts, timestamp, thumbs, reactions, starred, status, tool_calls, model)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing message insert: %w", err)
	}
	defer msgStmt.Close()

	var count int
	for _, c := range snap.Conversations {
		if _, err := convStmt.ExecContext(ctx, c.ID, c.Title, formatTime(c.CreatedAt), formatTime(c.UpdatedAt)); err != nil {
			return fmt.Errorf("saving conversation %s: %w", c.ID, err)
		}
		for pos, m := range c.Messages {
			starred := 0
			if m.Starred {
				starred = 1
			}
			_, err := msgStmt.ExecContext(ctx,
				m.ID, c.ID, pos, m.Role, m.Content,
				marshalColumn(m.Parts), formatTime(m.Timestamp), string(m.Thumbs),
				marshalColumn(m.Reactions), starred, string(m.Status),
				marshalColumn(m.ToolCalls), m.Model,
			)
			if err != nil {
				return fmt.Errorf("saving message %s: %w", m.ID, err)
			}
			count++
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, metaActive, snap.Active); err != nil {
		return fmt.Errorf("saving active conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	db.log.Debug().Int("conversations", len(snap.Conversations)).Int("messages", count).Msg("snapshot saved")
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.DateTime, s)
	}
	return t
}

// marshalColumn stores empty slices as NULL.
func marshalColumn[T any](v []T) sql.NullString {
	if len(v) == 0 {
		return sql.NullString{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

func unmarshalColumn[T any](col sql.NullString, v *[]T) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), v)
}
