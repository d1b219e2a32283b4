// Package provider normalizes the streaming wire formats of AI chat providers
// into a single canonical event sequence.
//
// Each adapter owns exactly the mapping from its provider's native chunk
// schema (SSE data lines, NDJSON, or framed JSON) to Event values. Nothing
// outside this package branches on provider identity.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ID identifies a provider. The set is closed: only the constants below are
// valid, and ParseID rejects everything else.
type ID string

const (
	OpenAI     ID = "openai"
	Anthropic  ID = "anthropic"
	Gemini     ID = "gemini"
	Ollama     ID = "ollama"
	Groq       ID = "groq"
	Mistral    ID = "mistral"
	DeepSeek   ID = "deepseek"
	OpenRouter ID = "openrouter"
	XAI        ID = "xai"
	Together   ID = "together"
	Perplexity ID = "perplexity"
	Cohere     ID = "cohere"
)

// Family groups providers that share a wire format.
type Family string

const (
	FamilyOpenAI    Family = "openai-compatible"
	FamilyAnthropic Family = "anthropic-messages"
	FamilyGemini    Family = "gemini"
	FamilyOllama    Family = "ollama"
	FamilyCohere    Family = "cohere-v2"
)

// Capabilities gates which request fields a provider accepts.
type Capabilities struct {
	Chat        bool `json:"chat"`
	Streaming   bool `json:"streaming"`
	ToolCalling bool `json:"toolCalling"`
	Vision      bool `json:"vision"`
}

// Spec is the static description of a provider.
type Spec struct {
	ID             ID
	Name           string
	Family         Family
	DefaultBaseURL string
	DefaultModel   string
	RequiresKey    bool
	Capabilities   Capabilities
}

var specs = []Spec{
	{OpenAI, "OpenAI", FamilyOpenAI, "https://api.openai.com/v1", "gpt-4o-mini", true, Capabilities{true, true, true, true}},
	{Anthropic, "Anthropic", FamilyAnthropic, "https://api.anthropic.com", "claude-3-5-sonnet-latest", true, Capabilities{true, true, true, true}},
	{Gemini, "Google Gemini", FamilyGemini, "https://generativelanguage.googleapis.com", "gemini-1.5-flash", true, Capabilities{true, true, true, true}},
	{Ollama, "Ollama", FamilyOllama, "http://localhost:11434", "llama3.1", false, Capabilities{true, true, true, true}},
	{Groq, "Groq", FamilyOpenAI, "https://api.groq.com/openai/v1", "llama-3.1-8b-instant", true, Capabilities{true, true, true, false}},
	{Mistral, "Mistral", FamilyOpenAI, "https://api.mistral.ai/v1", "mistral-small-latest", true, Capabilities{true, true, true, false}},
	{DeepSeek, "DeepSeek", FamilyOpenAI, "https://api.deepseek.com/v1", "deepseek-chat", true, Capabilities{true, true, true, false}},
	{OpenRouter, "OpenRouter", FamilyOpenAI, "https://openrouter.ai/api/v1", "openai/gpt-4o-mini", true, Capabilities{true, true, true, true}},
	{XAI, "xAI", FamilyOpenAI, "https://api.x.ai/v1", "grok-2-latest", true, Capabilities{true, true, true, true}},
	{Together, "Together AI", FamilyOpenAI, "https://api.together.xyz/v1", "meta-llama/Llama-3.3-70B-Instruct-Turbo", true, Capabilities{true, true, true, false}},
	{Perplexity, "Perplexity", FamilyOpenAI, "https://api.perplexity.ai", "sonar", true, Capabilities{true, true, false, false}},
	{Cohere, "Cohere", FamilyCohere, "https://api.cohere.com", "command-r-plus", true, Capabilities{true, true, true, false}},
}

// All returns every provider ID in declaration order.
func All() []ID {
	ids := make([]ID, len(specs))
	for i, s := range specs {
		ids[i] = s.ID
	}
	return ids
}

// Lookup returns the static spec for id.
func Lookup(id ID) (Spec, bool) {
	for _, s := range specs {
		if s.ID == id {
			return s, true
		}
	}
	return Spec{}, false
}

// ParseID converts a user-supplied string into a provider ID.
func ParseID(s string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := Lookup(id); !ok {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return id, nil
}

// Role constants for request messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Image is an image reference attached to a request message.
type Image struct {
	URL      string `json:"url"` // data: URL or remote URL
	MimeType string `json:"mimeType,omitempty"`
}

// ToolCall is a completed model request to run a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one entry of the context sent to a provider.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Images     []Image    `json:"images,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"` // role=tool
	Name       string     `json:"name,omitempty"`       // tool name, role=tool
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// Request is the input to Adapter.Open. Streaming is implied.
type Request struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"maxTokens"`
	TopP        float64          `json:"topP"`
}

// KeySource supplies API keys at request time.
type KeySource interface {
	GetKey(id ID) (string, error)
}

// StaticKeys is a KeySource backed by a fixed map.
type StaticKeys map[ID]string

// GetKey implements KeySource.
func (k StaticKeys) GetKey(id ID) (string, error) {
	return k[id], nil
}

// Adapter opens a streaming session against one provider.
//
// Open validates the request against the provider's capabilities and returns
// a ConfigurationError before any network call when it is not legal. Runtime
// failures are delivered as EventError on the channel. The channel is closed
// when the stream ends or ctx is cancelled; adapters check ctx between
// chunks and stop producing events promptly after cancellation.
type Adapter interface {
	ID() ID
	Capabilities() Capabilities
	Open(ctx context.Context, req Request) (<-chan Event, error)
}
