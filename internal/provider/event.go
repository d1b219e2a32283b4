package provider

import "context"

// EventType names a canonical stream event.
type EventType string

const (
	EventTextDelta        EventType = "text-delta"
	EventToolCallDelta    EventType = "tool-call-delta"
	EventToolCallComplete EventType = "tool-call-complete"
	EventUsage            EventType = "usage"
	EventDone             EventType = "done"
	EventError            EventType = "error"
)

// Usage reports token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Event is one normalized increment of a streaming response.
type Event struct {
	Type EventType `json:"type"`

	// text-delta
	Text string `json:"text,omitempty"`

	// tool-call-delta
	ToolCallID   string `json:"toolCallId,omitempty"`
	NameFragment string `json:"nameFragment,omitempty"`
	ArgsFragment string `json:"argsFragment,omitempty"`

	// tool-call-complete
	ToolCall *ToolCall `json:"toolCall,omitempty"`

	// usage
	Usage *Usage `json:"usage,omitempty"`

	// done
	StopReason string `json:"stopReason,omitempty"`

	// error
	Err *Error `json:"error,omitempty"`
}

// TextDelta builds a text-delta event.
func TextDelta(text string) Event { return Event{Type: EventTextDelta, Text: text} }

// ToolCallDelta builds a tool-call-delta event.
func ToolCallDelta(id, name, args string) Event {
	return Event{Type: EventToolCallDelta, ToolCallID: id, NameFragment: name, ArgsFragment: args}
}

// ToolCallComplete builds a tool-call-complete event.
func ToolCallComplete(tc ToolCall) Event { return Event{Type: EventToolCallComplete, ToolCall: &tc} }

// UsageEvent builds a usage event.
func UsageEvent(in, out int) Event {
	return Event{Type: EventUsage, Usage: &Usage{InputTokens: in, OutputTokens: out}}
}

// Done builds a done event.
func Done(stopReason string) Event { return Event{Type: EventDone, StopReason: stopReason} }

// Failure builds an error event.
func Failure(err *Error) Event { return Event{Type: EventError, Err: err} }

// emitter delivers events unless the consumer has gone away.
type emitter struct {
	ctx context.Context
	ch  chan<- Event
}

// send blocks until the event is accepted or ctx is done. It returns false
// when the producer should stop.
func (e emitter) send(ev Event) bool {
	if e.ctx.Err() != nil {
		return false
	}
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}
