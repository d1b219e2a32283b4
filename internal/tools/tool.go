// Package tools holds the locally executed tools a model may call during a
// chat turn.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/soyeahso/playground/internal/provider"
)

// Result is the tagged payload a tool returns. Type tells presentation code
// how to render Data.
type Result struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Handler executes a tool against its JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Tool is a capability the model can invoke.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage // JSON Schema for the arguments object
	Handler     Handler
}

// Registry maps tool names to handlers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns provider-ready definitions sorted by name so requests
// are byte-stable across runs.
func (r *Registry) Definitions() []provider.ToolDefinition {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]provider.ToolDefinition, 0, len(names))
	for _, n := range names {
		t := r.tools[n]
		defs = append(defs, provider.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Schema,
		})
	}
	return defs
}

// Execute runs the named tool and always returns a JSON document. Unknown
// tools, handler errors and panics become {"error": "..."} so a failing
// tool never aborts the turn.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (out json.RawMessage) {
	t, ok := r.Get(name)
	if !ok {
		return errorResult("unknown tool")
	}

	defer func() {
		if p := recover(); p != nil {
			out = errorResult(fmt.Sprintf("tool %s panicked: %v", name, p))
		}
	}()

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	res, err := t.Handler(ctx, args)
	if err != nil {
		return errorResult(err.Error())
	}
	data, err := json.Marshal(res)
	if err != nil {
		return errorResult("encoding result: " + err.Error())
	}
	return data
}

// IsError reports whether a tool output is an error result.
func IsError(out json.RawMessage) bool {
	var probe struct {
		Error *string `json:"error"`
	}
	return json.Unmarshal(out, &probe) == nil && probe.Error != nil
}

func errorResult(msg string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return data
}

// decodeArgs unmarshals args into v with a uniform error.
func decodeArgs(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// Options configures the built-in tool set.
type Options struct {
	// Prompter answers ask_human. Without one the tool reports an error.
	Prompter HumanPrompter
}

// NewBuiltinRegistry returns a registry holding every built-in tool.
func NewBuiltinRegistry(opts Options) *Registry {
	r := NewRegistry()
	for _, t := range []Tool{
		Calculator(),
		UnitConverter(),
		QRCode(),
		FormatJSON(),
		Password(),
		ColorPalette(),
		RegexTester(),
		Base64(),
		AskHuman(opts.Prompter),
	} {
		r.Register(t)
	}
	return r
}
