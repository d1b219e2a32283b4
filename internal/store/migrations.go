package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversations and messages",
		SQL: `
			CREATE TABLE conversations (
				id          TEXT PRIMARY KEY,
				title       TEXT NOT NULL,
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);

			CREATE INDEX idx_conversations_updated ON conversations (updated_at);

			CREATE TABLE messages (
				id              TEXT NOT NULL,
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				position        INTEGER NOT NULL,
				role            TEXT NOT NULL,
				content         TEXT NOT NULL,
				parts           TEXT,
				timestamp       TEXT NOT NULL,
				thumbs          TEXT NOT NULL DEFAULT '',
				reactions       TEXT,
				starred         INTEGER NOT NULL DEFAULT 0,
				status          TEXT NOT NULL DEFAULT '',
				tool_calls      TEXT,
				model           TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (conversation_id, id)
			);

			CREATE INDEX idx_messages_position ON messages (conversation_id, position);

			CREATE TABLE meta (
				key    TEXT PRIMARY KEY,
				value  TEXT NOT NULL
			);
		`,
	},
	{
		Version: 2,
		Name:    "create api keys",
		SQL: `
			CREATE TABLE api_keys (
				provider    TEXT PRIMARY KEY,
				api_key     TEXT NOT NULL,
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 3,
		Name:    "create message search with FTS5",
		SQL: `
			CREATE VIRTUAL TABLE messages_fts USING fts5(
				content,
				content='messages',
				content_rowid='rowid'
			);

			CREATE TRIGGER messages_ai AFTER INSERT ON messages BEGIN
				INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
			END;

			CREATE TRIGGER messages_ad AFTER DELETE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
			END;

			CREATE TRIGGER messages_au AFTER UPDATE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
				INSERT INTO messages_fts(rowid, content) VALUES (new.rowid, new.content);
			END;
		`,
	},
}
