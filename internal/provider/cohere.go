package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// CohereAdapter speaks the Cohere v2 chat streaming format.
type CohereAdapter struct {
	httpBase
}

// NewCohereAdapter creates a Cohere adapter.
func NewCohereAdapter(spec Spec, opts Options) *CohereAdapter {
	return &CohereAdapter{httpBase: newHTTPBase(spec, opts)}
}

// Open validates req and starts the stream.
func (a *CohereAdapter) Open(ctx context.Context, req Request) (<-chan Event, error) {
	if verr := Validate(a.spec.ID, a.spec.Capabilities, req); verr != nil {
		return nil, verr
	}
	key, kerr := a.apiKey()
	if kerr != nil {
		return nil, kerr
	}
	headers := map[string]string{
		"Authorization": "Bearer " + key,
		"Accept":        "text/event-stream",
	}

	ch := make(chan Event)
	go a.stream(ctx, headers, a.buildRequestBody(req), ch)
	return ch, nil
}

func (a *CohereAdapter) buildRequestBody(req Request) map[string]any {
	msgs := make([]map[string]any, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, map[string]any{"role": RoleSystem, "content": req.System})
	}
	for _, m := range req.Messages {
		cm := map[string]any{"role": m.Role, "content": m.Content}
		switch m.Role {
		case RoleTool:
			cm["tool_call_id"] = m.ToolCallID
		case RoleAssistant:
			if len(m.ToolCalls) > 0 {
				calls := make([]map[string]any, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					calls[i] = map[string]any{
						"id":   tc.ID,
						"type": "function",
						"function": map[string]any{
							"name":      tc.Name,
							"arguments": string(argsOrEmpty(tc.Arguments)),
						},
					}
				}
				cm["tool_calls"] = calls
				if m.Content != "" {
					cm["tool_plan"] = m.Content
				}
				delete(cm, "content")
			}
		}
		msgs = append(msgs, cm)
	}

	body := map[string]any{
		"model":       req.Model,
		"messages":    msgs,
		"stream":      true,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
		"p":           req.TopP,
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  schemaOrEmpty(t.Parameters),
				},
			}
		}
		body["tools"] = tools
	}
	return body
}

type cohereStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta *struct {
		Message *struct {
			Content *struct {
				Text string `json:"text"`
			} `json:"content"`
			ToolPlan  string `json:"tool_plan"`
			ToolCalls *struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
		Usage        *struct {
			BilledUnits struct {
				InputTokens  float64 `json:"input_tokens"`
				OutputTokens float64 `json:"output_tokens"`
			} `json:"billed_units"`
		} `json:"usage"`
	} `json:"delta"`
}

func (a *CohereAdapter) stream(ctx context.Context, headers map[string]string, body any, ch chan<- Event) {
	defer close(ch)
	out := emitter{ctx: ctx, ch: ch}

	raw, oerr := a.openStream(ctx, "/v2/chat", headers, nil, body)
	if oerr != nil {
		out.send(Failure(oerr))
		return
	}
	if raw == nil {
		return
	}
	defer raw.Close()

	dec := newSSEDecoder(raw)
	acc := newToolCallAccumulator()

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := dec.Next()
		if errors.Is(err, io.EOF) {
			out.send(Done("eof"))
			return
		}
		if err != nil {
			if !cancelled(ctx, err) {
				out.send(Failure(transportError(a.spec.ID, err)))
			}
			return
		}
		if strings.TrimSpace(data) == "" {
			continue
		}

		var ev cohereStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			out.send(Failure(protocolError(a.spec.ID, "malformed event: %v", err)))
			return
		}

		msg := ev.Delta
		switch ev.Type {
		case "content-delta":
			if msg != nil && msg.Message != nil && msg.Message.Content != nil && msg.Message.Content.Text != "" {
				if !out.send(TextDelta(msg.Message.Content.Text)) {
					return
				}
			}
		case "tool-call-start", "tool-call-delta":
			if msg == nil || msg.Message == nil || msg.Message.ToolCalls == nil {
				continue
			}
			tc := msg.Message.ToolCalls
			if !out.send(acc.add(ev.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)) {
				return
			}
		case "tool-call-end":
			if !acc.has(ev.Index) {
				continue
			}
			tc, err := acc.complete(ev.Index)
			if err != nil {
				out.send(Failure(protocolError(a.spec.ID, "%v", err)))
				return
			}
			if !out.send(ToolCallComplete(tc)) {
				return
			}
		case "message-end":
			reason := "COMPLETE"
			if msg != nil {
				if msg.FinishReason != "" {
					reason = msg.FinishReason
				}
				if msg.Usage != nil {
					u := msg.Usage.BilledUnits
					if !out.send(UsageEvent(int(u.InputTokens), int(u.OutputTokens))) {
						return
					}
				}
			}
			out.send(Done(reason))
			return
		}
	}
}
