package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/playground/internal/artifact"
	"github.com/soyeahso/playground/internal/conversation"
	"github.com/soyeahso/playground/internal/domain"
	"github.com/soyeahso/playground/internal/hooks"
	"github.com/soyeahso/playground/internal/logging"
	"github.com/soyeahso/playground/internal/provider"
	"github.com/soyeahso/playground/internal/tools"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

type harness struct {
	store *conversation.Store
	coord *Coordinator
	mock  *provider.MockAdapter
	hooks *hooks.Manager
	conv  string
}

func newHarness(t *testing.T, mock *provider.MockAdapter, opts Options) *harness {
	t.Helper()
	log := silentLog()
	store := conversation.NewStore(log)
	reg := provider.NewRegistry(log)
	reg.Register(mock)
	if opts.Hooks == nil {
		opts.Hooks = hooks.NewManager(log)
	}
	registry := tools.NewBuiltinRegistry(tools.Options{})
	return &harness{
		store: store,
		coord: NewCoordinator(store, reg, registry, opts, log),
		mock:  mock,
		hooks: opts.Hooks,
		conv:  store.CreateConversation(),
	}
}

func settings() Settings {
	return Settings{
		Provider:     provider.OpenAI,
		Model:        "gpt-4o",
		Temperature:  0.7,
		MaxTokens:    1024,
		TopP:         1,
		ToolsEnabled: true,
	}
}

func (h *harness) last(t *testing.T) domain.Message {
	t.Helper()
	c, err := h.store.Get(h.conv)
	require.NoError(t, err)
	require.NotEmpty(t, c.Messages)
	return c.Messages[len(c.Messages)-1]
}

func wait(t *testing.T, s *Session) Result {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
	return s.Wait()
}

// blockingOpen streams prefix and then holds the stream open until the
// request context is cancelled.
func blockingOpen(prefix ...provider.Event) func(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	return func(ctx context.Context, _ provider.Request) (<-chan provider.Event, error) {
		ch := make(chan provider.Event)
		go func() {
			defer close(ch)
			for _, ev := range prefix {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
			<-ctx.Done()
		}()
		return ch, nil
	}
}

func calcCall(id, expr string) provider.Event {
	return provider.ToolCallComplete(provider.ToolCall{
		ID:        id,
		Name:      "calculator",
		Arguments: json.RawMessage(`{"expression":"` + expr + `"}`),
	})
}

func TestSendPlainReply(t *testing.T) {
	mock := provider.NewMockAdapter([]provider.Event{
		provider.TextDelta("Hi "),
		provider.TextDelta("there"),
		provider.UsageEvent(10, 2),
		provider.Done("stop"),
	})
	h := newHarness(t, mock, Options{})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "hello"}, settings())
	require.NoError(t, err)
	res := wait(t, s)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "Hi there", res.Text)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 12, res.Usage.Total())
	assert.NoError(t, res.Err)
	assert.Nil(t, res.Artifact)

	m := h.last(t)
	assert.Equal(t, res.MessageID, m.ID)
	assert.Equal(t, domain.RoleAssistant, m.Role)
	assert.Equal(t, "Hi there", m.Content)
	assert.Equal(t, domain.StatusComplete, m.Status)
	assert.Equal(t, "gpt-4o", m.Model)
	assert.False(t, h.store.Busy(h.conv))
	assert.Nil(t, h.coord.Active(h.conv))

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []provider.Message{{Role: provider.RoleUser, Content: "hello"}}, reqs[0].Messages)
	assert.NotEmpty(t, reqs[0].Tools)
}

func TestCalculatorToolRound(t *testing.T) {
	mock := provider.NewMockAdapter(
		[]provider.Event{
			provider.ToolCallDelta("call_1", "calculator", `{"expression":`),
			calcCall("call_1", "2+2"),
		},
		[]provider.Event{
			provider.TextDelta("2+2 = 4"),
			provider.Done("stop"),
		},
	)
	h := newHarness(t, mock, Options{})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "2+2"}, settings())
	require.NoError(t, err)
	res := wait(t, s)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Rounds)

	m := h.last(t)
	assert.Equal(t, domain.StatusComplete, m.Status)
	require.Len(t, m.ToolCalls, 1)
	rec := m.ToolCalls[0]
	assert.Equal(t, "call_1", rec.ID)
	assert.Equal(t, "calculator", rec.Name)
	assert.JSONEq(t, `{"expression":"2+2"}`, string(rec.Arguments))

	var payload struct {
		Type string `json:"type"`
		Data struct {
			Result float64 `json:"result"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Result, &payload))
	assert.Equal(t, "calculation", payload.Type)
	assert.Equal(t, float64(4), payload.Data.Result)

	// The second round carries the assistant turn and the tool result.
	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, provider.RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, provider.RoleTool, msgs[2].Role)
	assert.Equal(t, "call_1", msgs[2].ToolCallID)
	assert.Equal(t, "calculator", msgs[2].Name)
	assert.Contains(t, msgs[2].Content, `"result":4`)
}

func TestToolLoopIsBounded(t *testing.T) {
	mock := provider.NewMockAdapter([]provider.Event{calcCall("c", "1+1")})
	h := newHarness(t, mock, Options{})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "loop"}, settings())
	require.NoError(t, err)
	res := wait(t, s)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, DefaultMaxToolRounds, res.Rounds)
	assert.Len(t, mock.Requests(), DefaultMaxToolRounds)

	f, ok := AsFailure(res.Err)
	require.True(t, ok)
	assert.Equal(t, KindToolLoopExceeded, f.Kind)
	assert.False(t, f.Retryable())

	m := h.last(t)
	assert.Equal(t, domain.StatusError, m.Status)
	assert.Contains(t, m.Content, domain.ErrorMarker+": tool-loop-exceeded]")
	assert.Len(t, m.ToolCalls, DefaultMaxToolRounds-1)
}

func TestToolLoopCapIsConfigurable(t *testing.T) {
	mock := provider.NewMockAdapter([]provider.Event{calcCall("c", "1")})
	h := newHarness(t, mock, Options{MaxToolRounds: 2})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "loop"}, settings())
	require.NoError(t, err)
	res := wait(t, s)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 2, res.Rounds)
}

func TestUnknownToolFeedsErrorBack(t *testing.T) {
	mock := provider.NewMockAdapter(
		[]provider.Event{provider.ToolCallComplete(provider.ToolCall{ID: "x", Name: "teleport", Arguments: json.RawMessage(`{}`)})},
		[]provider.Event{provider.TextDelta("I can't do that."), provider.Done("stop")},
	)
	h := newHarness(t, mock, Options{})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "beam me up"}, settings())
	require.NoError(t, err)
	res := wait(t, s)

	assert.Equal(t, StatusCompleted, res.Status)
	m := h.last(t)
	require.Len(t, m.ToolCalls, 1)
	assert.JSONEq(t, `{"error":"unknown tool"}`, string(m.ToolCalls[0].Result))
}

func TestCancelPreservesText(t *testing.T) {
	mock := provider.NewMockAdapter()
	mock.OpenFunc = blockingOpen(provider.TextDelta("Hello"), provider.TextDelta(" wor"))
	h := newHarness(t, mock, Options{})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "greet"}, settings())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Text() == "Hello wor" }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusStreaming, s.Status())
	assert.Same(t, s, h.coord.Active(h.conv))

	assert.True(t, h.coord.Cancel(h.conv))
	res := wait(t, s)

	assert.Equal(t, StatusCancelled, res.Status)
	assert.NoError(t, res.Err)
	m := h.last(t)
	assert.True(t, strings.HasPrefix(m.Content, "Hello wor"))
	assert.Equal(t, domain.StatusStopped, m.Status)
	assert.False(t, domain.HasErrorMarker(m.Content))
	assert.False(t, h.coord.Cancel(h.conv))
}

func TestCancelKeepsBufferedText(t *testing.T) {
	ready := make(chan struct{})
	mock := provider.NewMockAdapter()
	mock.OpenFunc = func(ctx context.Context, _ provider.Request) (<-chan provider.Event, error) {
		<-ready
		ch := make(chan provider.Event, 3)
		ch <- provider.TextDelta("one ")
		ch <- provider.TextDelta("two ")
		ch <- provider.TextDelta("three")
		return ch, nil
	}
	h := newHarness(t, mock, Options{})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "count"}, settings())
	require.NoError(t, err)
	s.Cancel()
	close(ready)

	res := wait(t, s)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, "one two three", res.Text)
	m := h.last(t)
	assert.Equal(t, "one two three", m.Content)
	assert.Equal(t, domain.StatusStopped, m.Status)
}

func TestCancelDuringToolPending(t *testing.T) {
	mock := provider.NewMockAdapter([]provider.Event{
		provider.ToolCallComplete(provider.ToolCall{ID: "w", Name: "wait", Arguments: json.RawMessage(`{}`)}),
	})
	h := newHarness(t, mock, Options{})
	entered := make(chan struct{})
	h.coord.executor.registry.Register(tools.Tool{
		Name:   "wait",
		Schema: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, _ json.RawMessage) (tools.Result, error) {
			close(entered)
			<-ctx.Done()
			return tools.Result{}, ctx.Err()
		},
	})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "hold on"}, settings())
	require.NoError(t, err)
	<-entered
	assert.Equal(t, StatusToolPending, s.Status())
	s.Cancel()
	res := wait(t, s)

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Len(t, mock.Requests(), 1)
	assert.Equal(t, domain.StatusStopped, h.last(t).Status)
}

func TestProviderErrorAppendsSuffix(t *testing.T) {
	mock := provider.NewMockAdapter([]provider.Event{
		provider.TextDelta("partial"),
		provider.Failure(&provider.Error{Provider: provider.OpenAI, Kind: provider.KindRateLimit, Code: 429, Message: "slow down"}),
	})
	h := newHarness(t, mock, Options{})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "hi"}, settings())
	require.NoError(t, err)
	res := wait(t, s)

	assert.Equal(t, StatusFailed, res.Status)
	f, ok := AsFailure(res.Err)
	require.True(t, ok)
	assert.Equal(t, provider.KindRateLimit, f.Kind)
	assert.True(t, f.Retryable())

	m := h.last(t)
	assert.Equal(t, domain.StatusError, m.Status)
	assert.Equal(t, "partial"+domain.ErrorSuffix("rate-limit", "openai: 429 slow down"), m.Content)
	assert.True(t, domain.HasErrorMarker(m.Content))
	assert.Equal(t, "partial", domain.StripErrorSuffix(m.Content))
}

func TestStreamEndWithoutDoneCompletes(t *testing.T) {
	mock := provider.NewMockAdapter([]provider.Event{provider.TextDelta("cut")})
	h := newHarness(t, mock, Options{})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "hi"}, settings())
	require.NoError(t, err)
	res := wait(t, s)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "cut", res.Text)
}

func TestStallWatchdog(t *testing.T) {
	mock := provider.NewMockAdapter()
	mock.OpenFunc = blockingOpen(provider.TextDelta("thinking"))
	h := newHarness(t, mock, Options{StallTimeout: 50 * time.Millisecond})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "hi"}, settings())
	require.NoError(t, err)
	res := wait(t, s)

	assert.Equal(t, StatusFailed, res.Status)
	f, ok := AsFailure(res.Err)
	require.True(t, ok)
	assert.Equal(t, provider.KindTransient, f.Kind)
	m := h.last(t)
	assert.True(t, strings.HasPrefix(m.Content, "thinking"))
	assert.True(t, domain.HasErrorMarker(m.Content))
}

func TestSecondSendIsRejectedWhileBusy(t *testing.T) {
	mock := provider.NewMockAdapter()
	mock.OpenFunc = blockingOpen()
	h := newHarness(t, mock, Options{})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "one"}, settings())
	require.NoError(t, err)

	_, err = h.coord.Send(context.Background(), h.conv, Input{Text: "two"}, settings())
	assert.ErrorIs(t, err, conversation.ErrConversationBusy)
	_, err = h.coord.Regenerate(context.Background(), h.conv, settings())
	assert.ErrorIs(t, err, conversation.ErrConversationBusy)

	// A different conversation streams independently.
	other := h.store.CreateConversation()
	s2, err := h.coord.Send(context.Background(), other, Input{Text: "three"}, settings())
	require.NoError(t, err)

	h.coord.CancelAll()
	assert.Equal(t, StatusCancelled, wait(t, s).Status)
	assert.Equal(t, StatusCancelled, wait(t, s2).Status)

	c, _ := h.store.Get(h.conv)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "one", c.Messages[0].Content)
}

func TestRegenerateResendsPrefix(t *testing.T) {
	mock := provider.NewMockAdapter([]provider.Event{provider.TextDelta("again"), provider.Done("stop")})
	h := newHarness(t, mock, Options{})
	for i, text := range []string{"a", "b", "c", "d"} {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		_, err := h.store.AddText(h.conv, role, text)
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		s, err := h.coord.Regenerate(context.Background(), h.conv, settings())
		require.NoError(t, err)
		wait(t, s)
	}

	want := []provider.Message{
		{Role: provider.RoleUser, Content: "a"},
		{Role: provider.RoleAssistant, Content: "b"},
		{Role: provider.RoleUser, Content: "c"},
	}
	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, want, reqs[0].Messages)
	assert.Equal(t, want, reqs[1].Messages)

	c, _ := h.store.Get(h.conv)
	require.Len(t, c.Messages, 4)
	assert.Equal(t, "again", c.Messages[3].Content)
}

func TestRetryAfterFailure(t *testing.T) {
	mock := provider.NewMockAdapter(
		[]provider.Event{provider.Failure(&provider.Error{Kind: provider.KindTransient, Message: "connection reset"})},
		[]provider.Event{provider.TextDelta("ok"), provider.Done("stop")},
	)
	h := newHarness(t, mock, Options{})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "hi"}, settings())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, wait(t, s).Status)

	s, err = h.coord.Retry(context.Background(), h.conv, settings())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, wait(t, s).Status)

	c, _ := h.store.Get(h.conv)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "ok", c.Messages[1].Content)
	assert.Equal(t, mock.Requests()[0].Messages, mock.Requests()[1].Messages)

	empty := h.store.CreateConversation()
	_, err = h.coord.Retry(context.Background(), empty, settings())
	assert.ErrorIs(t, err, ErrNothingToRetry)
}

func TestHistoryStripsErrorSuffix(t *testing.T) {
	mock := provider.NewMockAdapter([]provider.Event{provider.Done("stop")})
	h := newHarness(t, mock, Options{})
	_, err := h.store.AddText(h.conv, domain.RoleUser, "first")
	require.NoError(t, err)
	_, err = h.store.AddText(h.conv, domain.RoleAssistant, "half"+domain.ErrorSuffix("transient", "reset"))
	require.NoError(t, err)
	_, err = h.store.AddText(h.conv, domain.RoleAssistant, domain.ErrorSuffix("auth", "bad key"))
	require.NoError(t, err)

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "second"}, settings())
	require.NoError(t, err)
	wait(t, s)

	assert.Equal(t, []provider.Message{
		{Role: provider.RoleUser, Content: "first"},
		{Role: provider.RoleAssistant, Content: "half"},
		{Role: provider.RoleUser, Content: "second"},
	}, mock.Requests()[0].Messages)
}

func TestEditAndRerun(t *testing.T) {
	mock := provider.NewMockAdapter([]provider.Event{provider.TextDelta("new"), provider.Done("stop")})
	h := newHarness(t, mock, Options{})
	first, err := h.store.AddText(h.conv, domain.RoleUser, "old question")
	require.NoError(t, err)
	_, err = h.store.AddText(h.conv, domain.RoleAssistant, "old answer")
	require.NoError(t, err)
	_, err = h.store.AddText(h.conv, domain.RoleUser, "follow up")
	require.NoError(t, err)

	s, err := h.coord.EditAndRerun(context.Background(), h.conv, first, "new question", settings())
	require.NoError(t, err)
	wait(t, s)

	assert.Equal(t, []provider.Message{{Role: provider.RoleUser, Content: "new question"}}, mock.Requests()[0].Messages)
	c, _ := h.store.Get(h.conv)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "new question", c.Messages[0].Content)
	assert.Equal(t, "new", c.Messages[1].Content)
}

func TestInvalidRequestLeavesConversationUntouched(t *testing.T) {
	mock := provider.NewMockAdapter()
	mock.Caps.Vision = false
	h := newHarness(t, mock, Options{})

	in := Input{Text: "look", Images: []domain.ContentPart{{Type: domain.PartImage, ImageURL: "data:image/png;base64,AAAA", MimeType: "image/png"}}}
	_, err := h.coord.Send(context.Background(), h.conv, in, settings())
	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, provider.KindConfiguration, pe.Kind)

	bad := settings()
	bad.Temperature = 3
	_, err = h.coord.Send(context.Background(), h.conv, Input{Text: "x"}, bad)
	require.Error(t, err)

	c, _ := h.store.Get(h.conv)
	assert.Empty(t, c.Messages)
	assert.Empty(t, mock.Requests())
	assert.False(t, h.store.Busy(h.conv))
}

func TestToolsOmittedWithoutCapability(t *testing.T) {
	mock := provider.NewMockAdapter([]provider.Event{provider.Done("stop")})
	mock.Caps.ToolCalling = false
	h := newHarness(t, mock, Options{})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "hi"}, settings())
	require.NoError(t, err)
	wait(t, s)
	assert.Empty(t, mock.Requests()[0].Tools)
}

func TestUnknownProvider(t *testing.T) {
	h := newHarness(t, provider.NewMockAdapter(), Options{})
	st := settings()
	st.Provider = provider.Cohere
	_, err := h.coord.Send(context.Background(), h.conv, Input{Text: "hi"}, st)
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestArtifactAndHooks(t *testing.T) {
	mock := provider.NewMockAdapter(
		[]provider.Event{calcCall("c1", "1+2")},
		[]provider.Event{
			provider.TextDelta("```html\n<!DOCTYPE html><html></html>\n```"),
			provider.Done("stop"),
		},
	)
	log := silentLog()
	hm := hooks.NewManager(log)
	var mu sync.Mutex
	var seen []string
	var art hooks.Payload
	for _, ev := range hooks.AllEvents {
		hm.On(ev, "recorder", func(_ context.Context, p hooks.Payload) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, p.Event)
			if p.Event == hooks.EventArtifactDetected {
				art = p
			}
			return nil
		})
	}
	h := newHarness(t, mock, Options{Hooks: hm})

	s, err := h.coord.Send(context.Background(), h.conv, Input{Text: "page"}, settings())
	require.NoError(t, err)
	res := wait(t, s)

	require.NotNil(t, res.Artifact)
	assert.Equal(t, artifact.HTML, res.Artifact.Type)
	assert.Equal(t, "html", res.Artifact.Language)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		hooks.EventSessionStart,
		hooks.EventRoundStart,
		hooks.EventToolCall,
		hooks.EventRoundStart,
		hooks.EventArtifactDetected,
		hooks.EventSessionEnd,
	}, seen)
	assert.Equal(t, "html", art.String("type"))
}

func TestBuildContext(t *testing.T) {
	history := []domain.Message{
		{Role: domain.RoleSystem, Content: "  be terse "},
		{Role: domain.RoleUser, Parts: []domain.ContentPart{
			{Type: domain.PartText, Text: "what"},
			{Type: domain.PartImage, ImageURL: "https://x/y.png", MimeType: "image/png"},
		}},
		{Role: domain.RoleAssistant, Content: "a cat", ToolCalls: []domain.ToolCallRecord{{ID: "t", Name: "calculator"}}},
		{Role: domain.RoleAssistant, Content: "   "},
	}
	got := buildContext(history)
	assert.Equal(t, []provider.Message{
		{Role: provider.RoleSystem, Content: "be terse"},
		{Role: provider.RoleUser, Content: "what", Images: []provider.Image{{URL: "https://x/y.png", MimeType: "image/png"}}},
		{Role: provider.RoleAssistant, Content: "a cat"},
	}, got)
}
