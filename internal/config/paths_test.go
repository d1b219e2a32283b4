package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePathsHonorsHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PLAYGROUND_HOME", dir)

	p, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, dir, p.Base)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), p.Config)
	assert.Equal(t, filepath.Join(dir, "data", "playground.db"), p.DB)

	require.NoError(t, p.EnsureDirs())
	info, err := os.Stat(p.Data)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStoragePath(t *testing.T) {
	p := Paths{DB: "/x/playground.db", Badger: "/x/badger"}
	assert.Equal(t, "/x/playground.db", p.StoragePath(StorageConfig{Backend: "sqlite"}))
	assert.Equal(t, "/x/badger", p.StoragePath(StorageConfig{Backend: "badger"}))
	assert.Equal(t, "/custom", p.StoragePath(StorageConfig{Backend: "badger", Path: "/custom"}))
}

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"single segment", "engine", []string{"engine"}, false},
		{"two segments", "defaults.model", []string{"defaults", "model"}, false},
		{"three segments", "providers.groq.apiKey", []string{"providers", "groq", "apiKey"}, false},
		{"empty", "", nil, true},
		{"empty segment", "defaults..model", nil, true},
		{"trailing dot", "defaults.", nil, true},
		{"blocked __proto__", "foo.__proto__.bar", nil, true},
		{"blocked constructor", "constructor", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				var ce *ConfigError
				assert.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetValueAtPathCreatesIntermediates(t *testing.T) {
	root := map[string]any{"providers": "scalar"}
	SetValueAtPath(root, []string{"providers", "groq", "requestsPerMinute"}, 30)

	v, ok := GetValueAtPath(root, []string{"providers", "groq", "requestsPerMinute"})
	require.True(t, ok)
	assert.Equal(t, 30, v)

	assert.False(t, UnsetValueAtPath(root, []string{"providers", "missing", "x"}))
	assert.True(t, UnsetValueAtPath(root, []string{"providers", "groq"}))
}
