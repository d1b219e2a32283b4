package config

import (
	"fmt"
	"slices"

	"github.com/soyeahso/playground/internal/provider"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Chat defaults
	if _, err := provider.ParseID(cfg.Defaults.Provider); err != nil {
		add("defaults.provider", "unknown provider %q", cfg.Defaults.Provider)
	}
	if t := cfg.Defaults.Temperature; t < provider.MinTemperature || t > provider.MaxTemperature {
		add("defaults.temperature", "must be %.0f-%.0f, got %g", provider.MinTemperature, provider.MaxTemperature, t)
	}
	if n := cfg.Defaults.MaxTokens; n < provider.MinMaxTokens || n > provider.MaxMaxTokens {
		add("defaults.maxTokens", "must be %d-%d, got %d", provider.MinMaxTokens, provider.MaxMaxTokens, n)
	}
	if p := cfg.Defaults.TopP; p < provider.MinTopP || p > provider.MaxTopP {
		add("defaults.topP", "must be %.0f-%.0f, got %g", provider.MinTopP, provider.MaxTopP, p)
	}

	// Providers
	for name, p := range cfg.Providers {
		if _, err := provider.ParseID(name); err != nil {
			add("providers."+name, "unknown provider")
		}
		if p.RequestsPerMinute < 0 {
			add("providers."+name+".requestsPerMinute", "must be >= 0, got %d", p.RequestsPerMinute)
		}
	}

	// Engine
	if r := cfg.Engine.MaxToolRounds; r < 1 || r > 10 {
		add("engine.maxToolRounds", "must be 1-10, got %d", r)
	}
	if cfg.Engine.StallTimeoutSeconds <= 0 {
		add("engine.stallTimeoutSeconds", "must be > 0, got %d", cfg.Engine.StallTimeoutSeconds)
	}

	// Storage
	validBackends := []string{"sqlite", "badger"}
	if !slices.Contains(validBackends, cfg.Storage.Backend) {
		add("storage.backend", "must be one of %v, got %q", validBackends, cfg.Storage.Backend)
	}
	if cfg.Storage.KeyCacheTTLSeconds < 0 {
		add("storage.keyCacheTtlSeconds", "must be >= 0, got %d", cfg.Storage.KeyCacheTTLSeconds)
	}

	// Logging
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	return issues
}
