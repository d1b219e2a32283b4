package provider

import (
	"context"
	"sync"
	"time"
)

// MockAdapter is a test double for Adapter.
type MockAdapter struct {
	ProviderID ID
	Caps       Capabilities
	OpenFunc   func(ctx context.Context, req Request) (<-chan Event, error)

	// Rounds, when OpenFunc is nil, is replayed one script per Open call.
	// The last script repeats once the list is exhausted.
	Rounds [][]Event
	// Delay is slept between scripted events.
	Delay time.Duration

	mu       sync.Mutex
	requests []Request
}

// NewMockAdapter returns a mock with full capabilities replaying rounds.
func NewMockAdapter(rounds ...[]Event) *MockAdapter {
	return &MockAdapter{
		ProviderID: OpenAI,
		Caps:       Capabilities{Chat: true, Streaming: true, ToolCalling: true, Vision: true},
		Rounds:     rounds,
	}
}

func (m *MockAdapter) ID() ID                     { return m.ProviderID }
func (m *MockAdapter) Capabilities() Capabilities { return m.Caps }

// Requests returns a copy of every request passed to Open.
func (m *MockAdapter) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockAdapter) Open(ctx context.Context, req Request) (<-chan Event, error) {
	if verr := Validate(m.ProviderID, m.Caps, req); verr != nil {
		return nil, verr
	}
	m.mu.Lock()
	n := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.OpenFunc != nil {
		return m.OpenFunc(ctx, req)
	}

	var script []Event
	if len(m.Rounds) > 0 {
		if n >= len(m.Rounds) {
			n = len(m.Rounds) - 1
		}
		script = m.Rounds[n]
	}
	return Replay(ctx, script, m.Delay), nil
}

// Replay emits events on a new channel, sleeping delay between them, and
// stops early when ctx is cancelled.
func Replay(ctx context.Context, events []Event, delay time.Duration) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		out := emitter{ctx: ctx, ch: ch}
		for i, ev := range events {
			if i > 0 && delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			if !out.send(ev) {
				return
			}
		}
	}()
	return ch
}
