package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/playground/internal/logging"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func TestManager_On_And_Emit(t *testing.T) {
	m := testManager()

	var called bool
	m.On(EventSessionStart, "test", func(_ context.Context, p Payload) error {
		called = true
		assert.Equal(t, EventSessionStart, p.Event)
		return nil
	})

	m.Emit(context.Background(), EventSessionStart, nil)
	assert.True(t, called)
}

func TestManager_Emit_MultipleHandlers(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventToolCall, "first", func(_ context.Context, _ Payload) error {
		order = append(order, "first")
		return nil
	})
	m.On(EventToolCall, "second", func(_ context.Context, _ Payload) error {
		order = append(order, "second")
		return nil
	})

	m.Emit(context.Background(), EventToolCall, nil)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestManager_Emit_WithData(t *testing.T) {
	m := testManager()

	var got Payload
	m.On(EventToolCall, "test", func(_ context.Context, p Payload) error {
		got = p
		return nil
	})

	m.Emit(context.Background(), EventToolCall, map[string]any{
		"tool":  "calculator",
		"round": 1,
	})

	assert.Equal(t, "calculator", got.String("tool"))
	assert.Equal(t, "1", got.String("round"))
	assert.Equal(t, "", got.String("missing"))
}

func TestManager_Emit_HandlerError(t *testing.T) {
	m := testManager()

	var secondCalled bool
	m.On(EventSessionEnd, "failing", func(_ context.Context, _ Payload) error {
		return errors.New("handler broke")
	})
	m.On(EventSessionEnd, "second", func(_ context.Context, _ Payload) error {
		secondCalled = true
		return nil
	})

	m.Emit(context.Background(), EventSessionEnd, nil)
	assert.True(t, secondCalled)
}

func TestManager_Emit_HandlerPanic(t *testing.T) {
	m := testManager()

	var secondCalled bool
	m.On(EventArtifactDetected, "panics", func(_ context.Context, _ Payload) error {
		panic("boom")
	})
	m.On(EventArtifactDetected, "second", func(_ context.Context, _ Payload) error {
		secondCalled = true
		return nil
	})

	assert.NotPanics(t, func() {
		m.Emit(context.Background(), EventArtifactDetected, nil)
	})
	assert.True(t, secondCalled)
}

func TestManager_Emit_NoHandlers(t *testing.T) {
	m := testManager()
	m.Emit(context.Background(), EventStoreSaved, nil)
}

func TestManager_NilIsNoop(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.Emit(context.Background(), EventSessionStart, nil)
		m.EmitAsync(context.Background(), EventSessionStart, nil)
	})
}

func TestManager_Off(t *testing.T) {
	m := testManager()

	var callCount int
	m.On(EventRoundStart, "removable", func(_ context.Context, _ Payload) error {
		callCount++
		return nil
	})

	m.Emit(context.Background(), EventRoundStart, nil)
	assert.Equal(t, 1, callCount)

	m.Off(EventRoundStart, "removable")
	m.Emit(context.Background(), EventRoundStart, nil)
	assert.Equal(t, 1, callCount)
}

func TestManager_Off_KeepsOthers(t *testing.T) {
	m := testManager()

	var keepCalled int
	m.On(EventRoundStart, "remove-me", func(_ context.Context, _ Payload) error { return nil })
	m.On(EventRoundStart, "keep-me", func(_ context.Context, _ Payload) error {
		keepCalled++
		return nil
	})

	m.Off(EventRoundStart, "remove-me")
	m.Emit(context.Background(), EventRoundStart, nil)
	assert.Equal(t, 1, keepCalled)
}

func TestManager_EmitAsync(t *testing.T) {
	m := testManager()

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)

	for _, name := range []string{"async1", "async2"} {
		m.On(EventSessionEnd, name, func(_ context.Context, _ Payload) error {
			count.Add(1)
			wg.Done()
			return nil
		})
	}

	m.EmitAsync(context.Background(), EventSessionEnd, nil)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers did not complete in time")
	}

	assert.Equal(t, int32(2), count.Load())
}

func TestManager_Count(t *testing.T) {
	m := testManager()

	assert.Equal(t, 0, m.Count(EventSessionStart))

	m.On(EventSessionStart, "h1", func(_ context.Context, _ Payload) error { return nil })
	assert.Equal(t, 1, m.Count(EventSessionStart))

	m.On(EventSessionStart, "h2", func(_ context.Context, _ Payload) error { return nil })
	assert.Equal(t, 2, m.Count(EventSessionStart))
}

func TestManager_EventsSorted(t *testing.T) {
	m := testManager()

	m.On(EventToolCall, "h1", func(_ context.Context, _ Payload) error { return nil })
	m.On(EventArtifactDetected, "h2", func(_ context.Context, _ Payload) error { return nil })

	assert.Equal(t, []string{EventArtifactDetected, EventToolCall}, m.Events())
}

func TestKnown(t *testing.T) {
	require.NotEmpty(t, AllEvents)
	for _, e := range AllEvents {
		assert.True(t, Known(e), e)
	}
	assert.False(t, Known("gateway_start"))
}
