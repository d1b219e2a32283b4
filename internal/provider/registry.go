package provider

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/soyeahso/playground/internal/logging"
)

// Registry holds one adapter per provider ID.
type Registry struct {
	mu       sync.RWMutex
	adapters map[ID]Adapter
	log      *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		adapters: make(map[ID]Adapter),
		log:      log.Sub("provider.registry"),
	}
}

// Register adds or replaces the adapter for its ID.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
	r.log.Debug().Str("provider", string(a.ID())).Msg("registered provider")
}

// Resolve returns the adapter for id.
func (r *Registry) Resolve(id ID) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("no adapter registered for provider %q", id)
}

// List returns the registered IDs sorted by name.
func (r *Registry) List() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// New builds the adapter for id using the wire family it belongs to.
func New(id ID, opts Options) (Adapter, error) {
	spec, ok := Lookup(id)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", id)
	}
	switch spec.Family {
	case FamilyOpenAI:
		return NewOpenAIAdapter(spec, opts), nil
	case FamilyAnthropic:
		return NewAnthropicAdapter(spec, opts), nil
	case FamilyGemini:
		return NewGeminiAdapter(spec, opts), nil
	case FamilyOllama:
		return NewOllamaAdapter(spec, opts), nil
	case FamilyCohere:
		return NewCohereAdapter(spec, opts), nil
	default:
		return nil, fmt.Errorf("provider %q has no adapter for family %q", id, spec.Family)
	}
}

// Endpoint is the per-provider connection override.
type Endpoint struct {
	BaseURL           string
	RequestsPerMinute int
}

// NewRegistryWithAll registers an adapter for every known provider. Keys are
// looked up through keys on each Open, so adding a key later needs no
// rebuild.
func NewRegistryWithAll(endpoints map[ID]Endpoint, keys KeySource, hc *http.Client, log *logging.Logger) (*Registry, error) {
	reg := NewRegistry(log)
	for _, id := range All() {
		ep := endpoints[id]
		a, err := New(id, Options{BaseURL: ep.BaseURL, Keys: keys, HTTPClient: hc, Logger: log})
		if err != nil {
			return nil, err
		}
		reg.Register(WithRateLimit(a, ep.RequestsPerMinute))
	}
	return reg, nil
}
