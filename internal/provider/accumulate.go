package provider

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// pendingCall is a tool call whose fragments are still arriving.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// toolCallAccumulator assembles streamed tool-call fragments keyed by the
// provider's block or choice index.
type toolCallAccumulator struct {
	calls map[int]*pendingCall
	seq   int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*pendingCall)}
}

// add records a fragment and returns the canonical delta event for it.
func (a *toolCallAccumulator) add(index int, id, name, args string) Event {
	pc, ok := a.calls[index]
	if !ok {
		pc = &pendingCall{}
		a.calls[index] = pc
	}
	if id != "" {
		pc.id = id
	}
	if pc.id == "" {
		a.seq++
		pc.id = fmt.Sprintf("call_%d", a.seq)
	}
	if name != "" {
		pc.name += name
	}
	pc.args.WriteString(args)
	return ToolCallDelta(pc.id, name, args)
}

func (a *toolCallAccumulator) has(index int) bool {
	_, ok := a.calls[index]
	return ok
}

// complete finalizes the call at index and removes it.
func (a *toolCallAccumulator) complete(index int) (ToolCall, error) {
	pc, ok := a.calls[index]
	if !ok {
		return ToolCall{}, fmt.Errorf("no tool call at index %d", index)
	}
	delete(a.calls, index)
	return pc.finish()
}

// drain finalizes every outstanding call in index order.
func (a *toolCallAccumulator) drain() ([]ToolCall, error) {
	idx := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]ToolCall, 0, len(idx))
	for _, i := range idx {
		tc, err := a.complete(i)
		if err != nil {
			return out, err
		}
		out = append(out, tc)
	}
	return out, nil
}

func (pc *pendingCall) finish() (ToolCall, error) {
	if pc.name == "" {
		return ToolCall{}, fmt.Errorf("tool call %s has no name", pc.id)
	}
	args := strings.TrimSpace(pc.args.String())
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		return ToolCall{}, fmt.Errorf("tool call %s has malformed arguments", pc.id)
	}
	return ToolCall{ID: pc.id, Name: pc.name, Arguments: json.RawMessage(args)}, nil
}
