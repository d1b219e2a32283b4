package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "openai", cfg.Defaults.Provider)
	assert.Equal(t, 0.7, cfg.Defaults.Temperature)
	assert.Equal(t, 2048, cfg.Defaults.MaxTokens)
	assert.Equal(t, 1.0, cfg.Defaults.TopP)
	assert.Equal(t, 5, cfg.Engine.MaxToolRounds)
	assert.Equal(t, time.Minute, cfg.Engine.StallTimeout())
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.True(t, cfg.Artifacts.JSONContainerOnly())
	assert.Empty(t, Validate(&cfg))
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Engine.MaxToolRounds)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
defaults:
  provider: anthropic
  model: claude-3-5-haiku-latest
  temperature: 0
  maxTokens: 4096
  systemPrompt: Be terse.
providers:
  ollama:
    baseUrl: http://gpu-box:11434
  groq:
    apiKey: gsk-abc
    requestsPerMinute: 30
engine:
  stallTimeoutSeconds: 15
storage:
  backend: badger
logging:
  level: debug
  consoleStyle: json
artifacts:
  requireJsonContainer: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Defaults.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.Defaults.Model)
	assert.Equal(t, 0.0, cfg.Defaults.Temperature)
	assert.Equal(t, 4096, cfg.Defaults.MaxTokens)
	assert.Equal(t, 1.0, cfg.Defaults.TopP, "unset fields keep defaults")
	assert.Equal(t, "Be terse.", cfg.Defaults.SystemPrompt)
	assert.Equal(t, "http://gpu-box:11434", cfg.Providers["ollama"].BaseURL)
	assert.Equal(t, 30, cfg.Providers["groq"].RequestsPerMinute)
	assert.Equal(t, 5, cfg.Engine.MaxToolRounds)
	assert.Equal(t, 15*time.Second, cfg.Engine.StallTimeout())
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Artifacts.JSONContainerOnly())
	assert.Empty(t, Validate(&cfg))
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaults: [unclosed"), 0o600))

	_, err := Load(path)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestLoadExpandsAPIKeys(t *testing.T) {
	t.Setenv("TEST_GROQ_KEY", "gsk-from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  groq:\n    apiKey: ${TEST_GROQ_KEY}\n  xai:\n    apiKey: ${TEST_UNSET_KEY_XYZ}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gsk-from-env", cfg.Providers["groq"].APIKey)
	assert.Equal(t, "${TEST_UNSET_KEY_XYZ}", cfg.Providers["xai"].APIKey)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PLAYGROUND_PROVIDER", "Gemini")
	t.Setenv("PLAYGROUND_MODEL", "gemini-1.5-pro")
	t.Setenv("PLAYGROUND_TEMPERATURE", "1.5")
	t.Setenv("PLAYGROUND_MAX_TOKENS", "not-a-number")
	t.Setenv("PLAYGROUND_LOG_LEVEL", "DEBUG")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Defaults.Provider)
	assert.Equal(t, "gemini-1.5-pro", cfg.Defaults.Model)
	assert.Equal(t, 1.5, cfg.Defaults.Temperature)
	assert.Equal(t, 2048, cfg.Defaults.MaxTokens)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestRawRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.Empty(t, raw)

	segs, err := ParseConfigPath("defaults.model")
	require.NoError(t, err)
	SetValueAtPath(raw, segs, "gpt-4o")
	require.NoError(t, SaveRaw(path, raw))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Defaults.Model)

	raw, err = LoadRaw(path)
	require.NoError(t, err)
	assert.True(t, UnsetValueAtPath(raw, segs))
	_, ok := GetValueAtPath(raw, segs)
	assert.False(t, ok)
}
