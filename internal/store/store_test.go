package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/playground/internal/domain"
	"github.com/soyeahso/playground/internal/logging"
	"github.com/soyeahso/playground/internal/provider"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func testSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(":memory:", silentLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testBadger(t *testing.T) *Badger {
	t.Helper()
	db, err := OpenBadger(":memory:", silentLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func backends(t *testing.T) map[string]Backend {
	return map[string]Backend{
		BackendSQLite: testSQLite(t),
		BackendBadger: testBadger(t),
	}
}

func sampleSnapshot() Snapshot {
	base := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	return Snapshot{
		Version: SnapshotVersion,
		Active:  "c1",
		Conversations: []domain.Conversation{
			{
				ID:        "c1",
				Title:     "Quantum questions",
				CreatedAt: base,
				UpdatedAt: base.Add(time.Minute),
				Messages: []domain.Message{
					{
						ID: "m1", Role: domain.RoleUser, Timestamp: base,
						Parts: []domain.ContentPart{
							{Type: domain.PartText, Text: "explain quantum tunnelling"},
							{Type: domain.PartImage, ImageURL: "data:image/png;base64,AAAA", MimeType: "image/png"},
						},
						Content: "explain quantum tunnelling",
					},
					{
						ID: "m2", Role: domain.RoleAssistant, Content: "Particles borrow energy.",
						Timestamp: base.Add(time.Second), Thumbs: domain.ThumbsUp,
						Reactions: []string{"🎉"}, Starred: true, Status: domain.StatusComplete,
						Model: "gpt-4o",
						ToolCalls: []domain.ToolCallRecord{{
							ID: "t1", Name: "calculator",
							Arguments: []byte(`{"expression":"1+1"}`),
							Result:    []byte(`{"type":"calculation","data":{"result":2}}`),
						}},
					},
				},
			},
			{
				ID:        "c2",
				Title:     "Empty",
				CreatedAt: base,
				UpdatedAt: base,
				Messages:  []domain.Message{},
			},
		},
	}
}

func TestBackends_LoadEmpty(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			snap, err := b.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, SnapshotVersion, snap.Version)
			assert.Empty(t, snap.Conversations)
			assert.Empty(t, snap.Active)
		})
	}
}

func TestBackends_RoundTrip(t *testing.T) {
	want := sampleSnapshot()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Save(ctx, want))

			got, err := b.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "c1", got.Active)
			require.Len(t, got.Conversations, 2)

			c := got.Conversations[0]
			assert.Equal(t, "c1", c.ID)
			assert.Equal(t, "Quantum questions", c.Title)
			assert.True(t, want.Conversations[0].UpdatedAt.Equal(c.UpdatedAt))
			require.Len(t, c.Messages, 2)

			m1, m2 := c.Messages[0], c.Messages[1]
			assert.Equal(t, "m1", m1.ID)
			assert.True(t, m1.HasImages())
			assert.Equal(t, want.Conversations[0].Messages[0].Parts, m1.Parts)
			assert.True(t, want.Conversations[0].Messages[0].Timestamp.Equal(m1.Timestamp))

			assert.Equal(t, "m2", m2.ID)
			assert.Equal(t, domain.ThumbsUp, m2.Thumbs)
			assert.Equal(t, []string{"🎉"}, m2.Reactions)
			assert.True(t, m2.Starred)
			assert.Equal(t, domain.StatusComplete, m2.Status)
			assert.Equal(t, "gpt-4o", m2.Model)
			require.Len(t, m2.ToolCalls, 1)
			assert.JSONEq(t, `{"type":"calculation","data":{"result":2}}`, string(m2.ToolCalls[0].Result))

			assert.Equal(t, "c2", got.Conversations[1].ID)
			assert.Empty(t, got.Conversations[1].Messages)
		})
	}
}

func TestBackends_SaveReplaces(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Save(ctx, sampleSnapshot()))

			next := sampleSnapshot()
			next.Conversations = next.Conversations[1:]
			next.Active = "c2"
			require.NoError(t, b.Save(ctx, next))

			got, err := b.Load(ctx)
			require.NoError(t, err)
			require.Len(t, got.Conversations, 1)
			assert.Equal(t, "c2", got.Conversations[0].ID)
			assert.Equal(t, "c2", got.Active)
		})
	}
}

func TestBackends_Keys(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key, err := b.GetKey(provider.OpenAI)
			require.NoError(t, err)
			assert.Empty(t, key)

			require.NoError(t, b.SetKey(provider.OpenAI, "sk-one"))
			require.NoError(t, b.SetKey(provider.OpenAI, "sk-two"))
			key, err = b.GetKey(provider.OpenAI)
			require.NoError(t, err)
			assert.Equal(t, "sk-two", key)

			require.NoError(t, b.DeleteKey(provider.OpenAI))
			require.NoError(t, b.DeleteKey(provider.OpenAI))
			key, err = b.GetKey(provider.OpenAI)
			require.NoError(t, err)
			assert.Empty(t, key)
		})
	}
}

func TestOpen_Dispatch(t *testing.T) {
	b, err := Open(BackendSQLite, ":memory:", silentLog())
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open(BackendBadger, ":memory:", silentLog())
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = Open("postgres", "", silentLog())
	assert.Error(t, err)
}

func TestSQLite_OnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "playground.db")
	db, err := OpenSQLite(path, silentLog())
	require.NoError(t, err)
	require.NoError(t, db.Save(context.Background(), sampleSnapshot()))
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path, silentLog())
	require.NoError(t, err)
	defer db.Close()
	snap, err := db.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Conversations, 2)
}

func TestSQLite_Migrations(t *testing.T) {
	db := testSQLite(t)

	v, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)

	// Running migrate again is a no-op.
	require.NoError(t, db.migrate())
	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)

	for _, table := range []string{"conversations", "messages", "meta", "api_keys", "messages_fts"} {
		var name string
		err := db.sql.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestSQLite_RejectsNewerSchema(t *testing.T) {
	db := testSQLite(t)
	_, err := db.sql.Exec("INSERT INTO schema_migrations (version) VALUES (99)")
	require.NoError(t, err)

	assert.ErrorIs(t, db.migrate(), ErrUnsupportedVersion)
}

func TestSQLite_Search(t *testing.T) {
	db := testSQLite(t)
	ctx := context.Background()
	require.NoError(t, db.Save(ctx, sampleSnapshot()))

	hits, err := db.Search(ctx, "quantum", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ConversationID)
	assert.Equal(t, "m1", hits[0].MessageID)
	assert.Equal(t, "Quantum questions", hits[0].Title)
	assert.Contains(t, hits[0].Snippet, "[quantum]")

	// FTS syntax characters are matched literally rather than parsed.
	hits, err = db.Search(ctx, `energy" OR "x`, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = db.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Replaced messages drop out of the index.
	next := sampleSnapshot()
	next.Conversations = next.Conversations[1:]
	require.NoError(t, db.Save(ctx, next))
	hits, err = db.Search(ctx, "quantum", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBadger_RejectsUnknownVersion(t *testing.T) {
	b := testBadger(t)
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerSnapshotKey), []byte(`{"version":2,"conversations":[]}`))
	})
	require.NoError(t, err)

	_, err = b.Load(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	err = b.Save(context.Background(), Snapshot{Version: 7})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestBadger_KeyProviders(t *testing.T) {
	b := testBadger(t)
	require.NoError(t, b.SetKey(provider.Anthropic, "a"))
	require.NoError(t, b.SetKey(provider.Gemini, "g"))
	require.NoError(t, b.Save(context.Background(), sampleSnapshot()))

	ids, err := b.KeyProviders()
	require.NoError(t, err)
	assert.ElementsMatch(t, []provider.ID{provider.Anthropic, provider.Gemini}, ids)
}

type countingKeys struct {
	mu    sync.Mutex
	keys  map[provider.ID]string
	reads int
	fail  bool
}

func (c *countingKeys) GetKey(id provider.ID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.fail {
		return "", errors.New("disk on fire")
	}
	return c.keys[id], nil
}

func (c *countingKeys) SetKey(id provider.ID, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[id] = key
	return nil
}

func (c *countingKeys) DeleteKey(id provider.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, id)
	return nil
}

func TestCachedKeyStore(t *testing.T) {
	next := &countingKeys{keys: map[provider.ID]string{provider.OpenAI: "sk-1"}}
	k := NewCachedKeyStore(next, time.Hour, silentLog())
	defer k.Stop()

	for i := 0; i < 3; i++ {
		key, err := k.GetKey(provider.OpenAI)
		require.NoError(t, err)
		assert.Equal(t, "sk-1", key)
	}
	assert.Equal(t, 1, next.reads)

	require.NoError(t, k.SetKey(provider.OpenAI, "sk-2"))
	key, err := k.GetKey(provider.OpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-2", key)
	assert.Equal(t, 1, next.reads)

	require.NoError(t, k.DeleteKey(provider.OpenAI))
	key, err = k.GetKey(provider.OpenAI)
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Equal(t, 2, next.reads)
}

func TestCachedKeyStore_NoTTL(t *testing.T) {
	next := &countingKeys{keys: map[provider.ID]string{provider.Groq: "gsk"}}
	k := NewCachedKeyStore(next, 0, silentLog())
	defer k.Stop()

	_, _ = k.GetKey(provider.Groq)
	_, _ = k.GetKey(provider.Groq)
	assert.Equal(t, 2, next.reads)

	next.fail = true
	_, err := k.GetKey(provider.Groq)
	assert.Error(t, err)
}

func TestOverrideKeys(t *testing.T) {
	next := &countingKeys{keys: map[provider.ID]string{provider.OpenAI: "stored", provider.Mistral: "m"}}
	o := OverrideKeys{Overrides: map[provider.ID]string{provider.OpenAI: "from-config", provider.Mistral: ""}, Next: next}

	key, err := o.GetKey(provider.OpenAI)
	require.NoError(t, err)
	assert.Equal(t, "from-config", key)

	key, err = o.GetKey(provider.Mistral)
	require.NoError(t, err)
	assert.Equal(t, "m", key)

	key, err = OverrideKeys{}.GetKey(provider.XAI)
	require.NoError(t, err)
	assert.Empty(t, key)
}
