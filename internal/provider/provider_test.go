package provider

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/playground/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func validRequest() Request {
	return Request{
		Model:       "m",
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   1024,
		TopP:        1,
	}
}

// --- IDs ---

func TestParseID(t *testing.T) {
	id, err := ParseID(" Anthropic ")
	require.NoError(t, err)
	assert.Equal(t, Anthropic, id)

	_, err = ParseID("bedrock")
	assert.Error(t, err)
}

func TestAllProvidersHaveSpecs(t *testing.T) {
	ids := All()
	assert.Len(t, ids, 12)
	for _, id := range ids {
		spec, ok := Lookup(id)
		require.True(t, ok, id)
		assert.NotEmpty(t, spec.DefaultBaseURL, id)
		assert.True(t, spec.Capabilities.Streaming, id)
	}
	ollama, _ := Lookup(Ollama)
	assert.False(t, ollama.RequiresKey)
}

// --- Validate ---

func TestValidateBounds(t *testing.T) {
	caps := Capabilities{Chat: true, Streaming: true}

	tests := []struct {
		name   string
		mutate func(*Request)
		ok     bool
	}{
		{"valid", func(r *Request) {}, true},
		{"temperature at max", func(r *Request) { r.Temperature = 2.0 }, true},
		{"temperature above max", func(r *Request) { r.Temperature = 2.1 }, false},
		{"temperature negative", func(r *Request) { r.Temperature = -0.1 }, false},
		{"maxTokens at min", func(r *Request) { r.MaxTokens = 256 }, true},
		{"maxTokens below min", func(r *Request) { r.MaxTokens = 255 }, false},
		{"maxTokens at max", func(r *Request) { r.MaxTokens = 8192 }, true},
		{"maxTokens above max", func(r *Request) { r.MaxTokens = 8193 }, false},
		{"topP above max", func(r *Request) { r.TopP = 1.01 }, false},
		{"missing model", func(r *Request) { r.Model = "" }, false},
		{"tools without support", func(r *Request) { r.Tools = []ToolDefinition{{Name: "x"}} }, false},
		{"tool calls in history without support", func(r *Request) {
			r.Messages = append(r.Messages, Message{
				Role:      RoleAssistant,
				ToolCalls: []ToolCall{{ID: "c1", Name: "calculator", Arguments: []byte(`{}`)}},
			})
		}, false},
		{"tool result in history without support", func(r *Request) {
			r.Messages = append(r.Messages, Message{Role: RoleTool, ToolCallID: "c1", Name: "calculator", Content: `{"result":2}`})
		}, false},
		{"images without vision", func(r *Request) {
			r.Messages[0].Images = []Image{{URL: "data:image/png;base64,AA=="}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := Validate(Groq, caps, req)
			if tt.ok {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, KindConfiguration, err.Kind)
			assert.Equal(t, Groq, err.Provider)
		})
	}
}

func TestOpenRejectsIllegalRequestBeforeNetwork(t *testing.T) {
	// Perplexity has no tool calling; the unreachable base URL proves no
	// request is attempted.
	a, err := New(Perplexity, Options{BaseURL: "http://127.0.0.1:1", Keys: StaticKeys{Perplexity: "k"}})
	require.NoError(t, err)

	req := validRequest()
	req.Tools = []ToolDefinition{{Name: "calculator"}}
	ch, err := a.Open(context.Background(), req)
	assert.Nil(t, ch)
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindConfiguration, pe.Kind)
}

// --- Errors ---

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, KindAuth, KindForStatus(401))
	assert.Equal(t, KindAuth, KindForStatus(403))
	assert.Equal(t, KindRateLimit, KindForStatus(429))
	assert.Equal(t, KindTransient, KindForStatus(408))
	assert.Equal(t, KindTransient, KindForStatus(503))
	assert.Equal(t, KindProtocol, KindForStatus(400))
}

func TestErrorMessageEnvelopes(t *testing.T) {
	assert.Equal(t, "bad key", errorMessage([]byte(`{"error":{"message":"bad key"}}`)))
	assert.Equal(t, "slow down", errorMessage([]byte(`{"error":"slow down"}`)))
	assert.Equal(t, "nope", errorMessage([]byte(`{"message":"nope"}`)))
	assert.Equal(t, "plain text", errorMessage([]byte("plain text\n")))
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Provider: OpenAI, Kind: KindRateLimit, Code: 429, Message: "rate limited"}
	assert.Equal(t, "openai: 429 rate limited", err.Error())
	assert.False(t, err.Terminal())
	assert.True(t, (&Error{Kind: KindAuth}).Terminal())
}

// --- SSE ---

func TestSSEDecoder(t *testing.T) {
	body := ": comment\n" +
		"event: ping\ndata: {\"a\":1}\n\n" +
		"data: line1\ndata: line2\r\n\r\n" +
		"data: tail"
	dec := newSSEDecoder(strings.NewReader(body))

	ev, data, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "ping", ev)
	assert.Equal(t, `{"a":1}`, data)

	ev, data, err = dec.Next()
	require.NoError(t, err)
	assert.Empty(t, ev)
	assert.Equal(t, "line1\nline2", data)

	_, data, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "tail", data)

	_, _, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

// --- Accumulator ---

func TestToolCallAccumulator(t *testing.T) {
	acc := newToolCallAccumulator()
	ev := acc.add(0, "call_a", "calcu", `{"expr`)
	assert.Equal(t, EventToolCallDelta, ev.Type)
	assert.Equal(t, "call_a", ev.ToolCallID)
	acc.add(0, "", "lator", `ession":"2+2"}`)
	acc.add(1, "", "clock", "")

	calls, err := acc.drain()
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "calculator", calls[0].Name)
	assert.JSONEq(t, `{"expression":"2+2"}`, string(calls[0].Arguments))
	assert.Equal(t, "call_1", calls[1].ID)
	assert.JSONEq(t, `{}`, string(calls[1].Arguments))
}

func TestToolCallAccumulatorRejectsMalformedArgs(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(0, "c", "calculator", `{"expression":`)
	_, err := acc.complete(0)
	assert.Error(t, err)
}

// --- Registry ---

func TestRegistryWithAll(t *testing.T) {
	reg, err := NewRegistryWithAll(map[ID]Endpoint{
		Groq: {RequestsPerMinute: 30},
	}, StaticKeys{}, nil, silentLog())
	require.NoError(t, err)
	assert.Len(t, reg.List(), 12)

	a, err := reg.Resolve(Groq)
	require.NoError(t, err)
	_, limited := a.(*RateLimited)
	assert.True(t, limited)

	a, err = reg.Resolve(Anthropic)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicAdapter{}, a)

	reg2 := NewRegistry(silentLog())
	_, err = reg2.Resolve(OpenAI)
	assert.Error(t, err)
}

func TestWithRateLimitDisabled(t *testing.T) {
	m := NewMockAdapter()
	assert.Same(t, m, WithRateLimit(m, 0))
}

func TestRateLimitedCancelWhileWaiting(t *testing.T) {
	m := NewMockAdapter([]Event{Done("stop")})
	a := WithRateLimit(m, 1)

	ch, err := a.Open(context.Background(), validRequest())
	require.NoError(t, err)
	collect(t, ch)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Open(ctx, validRequest())
	assert.Error(t, err)
	assert.Len(t, m.Requests(), 1)
}

// --- Mock ---

func TestMockReplaysRounds(t *testing.T) {
	m := NewMockAdapter(
		[]Event{TextDelta("one"), Done("stop")},
		[]Event{TextDelta("two"), Done("stop")},
	)
	for _, want := range []string{"one", "two", "two"} {
		ch, err := m.Open(context.Background(), validRequest())
		require.NoError(t, err)
		evs := collect(t, ch)
		require.Len(t, evs, 2)
		assert.Equal(t, want, evs[0].Text)
	}
	assert.Len(t, m.Requests(), 3)
}

func TestEventJSON(t *testing.T) {
	data, err := json.Marshal(ToolCallComplete(ToolCall{ID: "c1", Name: "calculator", Arguments: json.RawMessage(`{"expression":"1+1"}`)}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tool-call-complete","toolCall":{"id":"c1","name":"calculator","arguments":{"expression":"1+1"}}}`, string(data))
}

// collect drains ch, failing the test if it does not close in time.
func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return out
		}
	}
}

func textOf(evs []Event) string {
	var b strings.Builder
	for _, ev := range evs {
		if ev.Type == EventTextDelta {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func last(evs []Event) Event {
	if len(evs) == 0 {
		return Event{}
	}
	return evs[len(evs)-1]
}
