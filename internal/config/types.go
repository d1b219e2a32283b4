package config

// Config is the top-level playground configuration.
type Config struct {
	Defaults  ChatDefaults             `yaml:"defaults" json:"defaults"`
	Providers map[string]ProviderEntry `yaml:"providers,omitempty" json:"providers,omitempty"`
	Engine    EngineConfig             `yaml:"engine" json:"engine"`
	Storage   StorageConfig            `yaml:"storage" json:"storage"`
	Logging   LoggingConfig            `yaml:"logging" json:"logging"`
	Artifacts ArtifactConfig           `yaml:"artifacts" json:"artifacts"`
}

// ChatDefaults are the request parameters used for new sessions.
type ChatDefaults struct {
	Provider     string  `yaml:"provider" json:"provider"`
	Model        string  `yaml:"model,omitempty" json:"model,omitempty"`
	Temperature  float64 `yaml:"temperature" json:"temperature"`
	MaxTokens    int     `yaml:"maxTokens" json:"maxTokens"`
	TopP         float64 `yaml:"topP" json:"topP"`
	SystemPrompt string  `yaml:"systemPrompt,omitempty" json:"systemPrompt,omitempty"`
	ToolsEnabled bool    `yaml:"toolsEnabled" json:"toolsEnabled"`
}

// ProviderEntry overrides connection settings for one provider.
type ProviderEntry struct {
	BaseURL           string `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty"`
	APIKey            string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	Model             string `yaml:"model,omitempty" json:"model,omitempty"`
	RequestsPerMinute int    `yaml:"requestsPerMinute,omitempty" json:"requestsPerMinute,omitempty"`
}

// EngineConfig tunes the stream coordinator.
type EngineConfig struct {
	MaxToolRounds       int `yaml:"maxToolRounds" json:"maxToolRounds"`
	StallTimeoutSeconds int `yaml:"stallTimeoutSeconds" json:"stallTimeoutSeconds"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend            string `yaml:"backend" json:"backend"` // "sqlite" or "badger"
	Path               string `yaml:"path,omitempty" json:"path,omitempty"`
	KeyCacheTTLSeconds int    `yaml:"keyCacheTtlSeconds,omitempty" json:"keyCacheTtlSeconds,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level        string `yaml:"level" json:"level"`
	ConsoleStyle string `yaml:"consoleStyle" json:"consoleStyle"` // "pretty", "json"
	File         string `yaml:"file,omitempty" json:"file,omitempty"`
}

// ArtifactConfig tunes artifact detection.
type ArtifactConfig struct {
	// RequireJSONContainer limits JSON sniffing of untagged blocks to
	// objects and arrays. Nil means true.
	RequireJSONContainer *bool `yaml:"requireJsonContainer,omitempty" json:"requireJsonContainer,omitempty"`
	// MermaidKeywords replaces the default diagram keywords when set.
	MermaidKeywords []string `yaml:"mermaidKeywords,omitempty" json:"mermaidKeywords,omitempty"`
}

// JSONContainerOnly resolves RequireJSONContainer.
func (a ArtifactConfig) JSONContainerOnly() bool {
	return a.RequireJSONContainer == nil || *a.RequireJSONContainer
}
