package store

import (
	"context"
	"fmt"
	"strings"
)

// SearchHit is one message matching a full-text query.
type SearchHit struct {
	ConversationID string  `json:"conversationId"`
	Title          string  `json:"title"`
	MessageID      string  `json:"messageId"`
	Role           string  `json:"role"`
	Snippet        string  `json:"snippet"`
	Rank           float64 `json:"rank"`
}

// Search runs an FTS5 query over saved message content, best matches first.
// Only what has been saved is searchable.
func (db *SQLite) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.sql.QueryContext(ctx,
		`SELECT m.conversation_id, c.title, m.id, m.role,
		        snippet(messages_fts, 0, '[', ']', '…', 12), messages_fts.rank
		 FROM messages_fts
		 JOIN messages m ON m.rowid = messages_fts.rowid
		 JOIN conversations c ON c.id = m.conversation_id
		 WHERE messages_fts MATCH ?
		 ORDER BY messages_fts.rank
		 LIMIT ?`, ftsQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ConversationID, &h.Title, &h.MessageID, &h.Role, &h.Snippet, &h.Rank); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery quotes each term so user input is matched literally instead of
// parsed as FTS5 syntax.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}
