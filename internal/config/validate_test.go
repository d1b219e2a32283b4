package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func issuePaths(issues []ValidationIssue) []string {
	paths := make([]string, len(issues))
	for i, is := range issues {
		paths[i] = is.Path
	}
	return paths
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"unknown provider", func(c *Config) { c.Defaults.Provider = "bedrock" }, "defaults.provider"},
		{"temperature too high", func(c *Config) { c.Defaults.Temperature = 2.5 }, "defaults.temperature"},
		{"maxTokens too low", func(c *Config) { c.Defaults.MaxTokens = 100 }, "defaults.maxTokens"},
		{"maxTokens too high", func(c *Config) { c.Defaults.MaxTokens = 9000 }, "defaults.maxTokens"},
		{"topP negative", func(c *Config) { c.Defaults.TopP = -1 }, "defaults.topP"},
		{"unknown provider entry", func(c *Config) {
			c.Providers = map[string]ProviderEntry{"azure": {}}
		}, "providers.azure"},
		{"negative rpm", func(c *Config) {
			c.Providers = map[string]ProviderEntry{"groq": {RequestsPerMinute: -1}}
		}, "providers.groq.requestsPerMinute"},
		{"zero rounds", func(c *Config) { c.Engine.MaxToolRounds = 0 }, "engine.maxToolRounds"},
		{"too many rounds", func(c *Config) { c.Engine.MaxToolRounds = 11 }, "engine.maxToolRounds"},
		{"zero stall timeout", func(c *Config) { c.Engine.StallTimeoutSeconds = 0 }, "engine.stallTimeoutSeconds"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.backend"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad console style", func(c *Config) { c.Logging.ConsoleStyle = "compact" }, "logging.consoleStyle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			issues := Validate(&cfg)
			assert.Contains(t, issuePaths(issues), tt.path)
		})
	}
}

func TestValidateBoundariesAccepted(t *testing.T) {
	cfg := Defaults()
	cfg.Defaults.Temperature = 2
	cfg.Defaults.MaxTokens = 256
	cfg.Defaults.TopP = 0
	cfg.Engine.MaxToolRounds = 10
	assert.Empty(t, Validate(&cfg))

	cfg.Defaults.MaxTokens = 8192
	assert.Empty(t, Validate(&cfg))
}

func TestValidationIssueString(t *testing.T) {
	is := ValidationIssue{Path: "engine.maxToolRounds", Message: "must be 1-10, got 0"}
	assert.Equal(t, "engine.maxToolRounds: must be 1-10, got 0", is.String())
}
