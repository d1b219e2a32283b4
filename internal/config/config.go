package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Defaults: ChatDefaults{
			Provider:     "openai",
			Temperature:  0.7,
			MaxTokens:    2048,
			TopP:         1,
			ToolsEnabled: true,
		},
		Engine: EngineConfig{
			MaxToolRounds:       5,
			StallTimeoutSeconds: 60,
		},
		Storage: StorageConfig{
			Backend:            "sqlite",
			KeyCacheTTLSeconds: 300,
		},
		Logging: LoggingConfig{
			Level:        "warn",
			ConsoleStyle: "pretty",
		},
	}
}

// StallTimeout returns the watchdog interval.
func (e EngineConfig) StallTimeout() time.Duration {
	return time.Duration(e.StallTimeoutSeconds) * time.Second
}

// KeyCacheTTL returns how long resolved API keys stay cached.
func (s StorageConfig) KeyCacheTTL() time.Duration {
	return time.Duration(s.KeyCacheTTLSeconds) * time.Second
}
