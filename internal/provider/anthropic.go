package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const anthropicVersion = "2023-06-01"

// AnthropicAdapter speaks the Anthropic Messages streaming format.
type AnthropicAdapter struct {
	httpBase
}

// NewAnthropicAdapter creates an Anthropic adapter.
func NewAnthropicAdapter(spec Spec, opts Options) *AnthropicAdapter {
	return &AnthropicAdapter{httpBase: newHTTPBase(spec, opts)}
}

// Open validates req and starts the stream.
func (a *AnthropicAdapter) Open(ctx context.Context, req Request) (<-chan Event, error) {
	if verr := Validate(a.spec.ID, a.spec.Capabilities, req); verr != nil {
		return nil, verr
	}
	key, kerr := a.apiKey()
	if kerr != nil {
		return nil, kerr
	}

	body := a.buildRequestBody(req)
	headers := map[string]string{
		"x-api-key":         key,
		"anthropic-version": anthropicVersion,
		"Accept":            "text/event-stream",
	}

	ch := make(chan Event)
	go a.stream(ctx, headers, body, ch)
	return ch, nil
}

func (a *AnthropicAdapter) buildRequestBody(req Request) map[string]any {
	system := req.System
	msgs := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleTool:
			msgs = append(msgs, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": m.ToolCallID,
					"content":     m.Content,
				}},
			})
		case RoleAssistant:
			var blocks []map[string]any
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, map[string]any{"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": argsOrEmpty(tc.Arguments)})
			}
			msgs = append(msgs, map[string]any{"role": "assistant", "content": blocks})
		default:
			var blocks []map[string]any
			for _, img := range m.Images {
				blocks = append(blocks, anthropicImage(img))
			}
			if m.Content != "" || len(blocks) == 0 {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			msgs = append(msgs, map[string]any{"role": "user", "content": blocks})
		}
	}

	body := map[string]any{
		"model":       req.Model,
		"messages":    msgs,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
		"top_p":       req.TopP,
		"stream":      true,
	}
	if system != "" {
		body["system"] = system
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": schemaOrEmpty(t.Parameters),
			}
		}
		body["tools"] = tools
	}
	return body
}

func anthropicImage(img Image) map[string]any {
	if mime, data, ok := splitDataURL(img.URL); ok {
		return map[string]any{
			"type":   "image",
			"source": map[string]any{"type": "base64", "media_type": mime, "data": data},
		}
	}
	return map[string]any{
		"type":   "image",
		"source": map[string]any{"type": "url", "url": img.URL},
	}
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	Message *struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message,omitempty"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta,omitempty"`

	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *AnthropicAdapter) stream(ctx context.Context, headers map[string]string, body any, ch chan<- Event) {
	defer close(ch)
	out := emitter{ctx: ctx, ch: ch}

	raw, oerr := a.openStream(ctx, "/v1/messages", headers, nil, body)
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
	var inputTokens, outputTokens int
	var stopReason string

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

		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			out.send(Failure(protocolError(a.spec.ID, "malformed event: %v", err)))
			return
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				inputTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				if !out.send(acc.add(ev.Index, ev.ContentBlock.ID, ev.ContentBlock.Name, "")) {
					return
				}
			}
		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				if !out.send(TextDelta(ev.Delta.Text)) {
					return
				}
			case "input_json_delta":
				if !out.send(acc.add(ev.Index, "", "", ev.Delta.PartialJSON)) {
					return
				}
			}
		case "content_block_stop":
			if acc.has(ev.Index) {
				tc, err := acc.complete(ev.Index)
				if err != nil {
					out.send(Failure(protocolError(a.spec.ID, "%v", err)))
					return
				}
				if !out.send(ToolCallComplete(tc)) {
					return
				}
			}
		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				stopReason = ev.Delta.StopReason
			}
			if ev.Usage != nil {
				outputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			if !out.send(UsageEvent(inputTokens, outputTokens)) {
				return
			}
			out.send(Done(stopReason))
			return
		case "error":
			perr := &Error{Provider: a.spec.ID, Kind: KindProtocol, Message: "stream error"}
			if ev.Error != nil {
				perr.Message = ev.Error.Message
				perr.Kind = anthropicErrorKind(ev.Error.Type)
			}
			out.send(Failure(perr))
			return
		}
	}
}

func anthropicErrorKind(typ string) Kind {
	switch typ {
	case "authentication_error", "permission_error":
		return KindAuth
	case "rate_limit_error":
		return KindRateLimit
	case "overloaded_error", "api_error", "timeout_error":
		return KindTransient
	case "invalid_request_error":
		return KindConfiguration
	default:
		return KindProtocol
	}
}

// splitDataURL parses "data:<mime>;base64,<data>".
func splitDataURL(u string) (mime, data string, ok bool) {
	if !strings.HasPrefix(u, "data:") {
		return "", "", false
	}
	head, payload, found := strings.Cut(strings.TrimPrefix(u, "data:"), ",")
	if !found || !strings.HasSuffix(head, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(head, ";base64"), payload, true
}

func schemaOrEmpty(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return schema
}

func argsOrEmpty(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("{}")
	}
	return args
}
