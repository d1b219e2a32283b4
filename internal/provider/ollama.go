package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
)

// OllamaAdapter speaks Ollama's newline-delimited JSON /api/chat stream.
type OllamaAdapter struct {
	httpBase
}

// NewOllamaAdapter creates an Ollama adapter. No API key is required.
func NewOllamaAdapter(spec Spec, opts Options) *OllamaAdapter {
	return &OllamaAdapter{httpBase: newHTTPBase(spec, opts)}
}

// Open validates req and starts the stream.
func (a *OllamaAdapter) Open(ctx context.Context, req Request) (<-chan Event, error) {
	if verr := Validate(a.spec.ID, a.spec.Capabilities, req); verr != nil {
		return nil, verr
	}
	key, kerr := a.apiKey()
	if kerr != nil {
		return nil, kerr
	}
	headers := map[string]string{}
	if key != "" {
		headers["Authorization"] = "Bearer " + key
	}

	ch := make(chan Event)
	go a.stream(ctx, headers, a.buildRequestBody(req), ch)
	return ch, nil
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

func (a *OllamaAdapter) buildRequestBody(req Request) map[string]any {
	msgs := make([]ollamaMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, ollamaMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, img := range m.Images {
			// Ollama only accepts raw base64 image data.
			if _, data, ok := splitDataURL(img.URL); ok {
				om.Images = append(om.Images, data)
			}
		}
		for _, tc := range m.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = argsOrEmpty(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		msgs = append(msgs, om)
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": msgs,
		"stream":   true,
		"options": map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
			"top_p":       req.TopP,
		},
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

type ollamaChunk struct {
	Message struct {
		Content   string           `json:"content"`
		ToolCalls []ollamaToolCall `json:"tool_calls"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

func (a *OllamaAdapter) stream(ctx context.Context, headers map[string]string, body any, ch chan<- Event) {
	defer close(ch)
	out := emitter{ctx: ctx, ch: ch}

	raw, oerr := a.openStream(ctx, "/api/chat", headers, nil, body)
	if oerr != nil {
		out.send(Failure(oerr))
		return
	}
	if raw == nil {
		return
	}
	defer raw.Close()

	scanner := bufio.NewScanner(raw)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	acc := newToolCallAccumulator()
	calls := 0

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var chunk ollamaChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			out.send(Failure(protocolError(a.spec.ID, "malformed chunk: %v", err)))
			return
		}
		if chunk.Error != "" {
			out.send(Failure(protocolError(a.spec.ID, "%s", chunk.Error)))
			return
		}
		if chunk.Message.Content != "" {
			if !out.send(TextDelta(chunk.Message.Content)) {
				return
			}
		}
		for _, otc := range chunk.Message.ToolCalls {
			if !out.send(acc.add(calls, "", otc.Function.Name, string(otc.Function.Arguments))) {
				return
			}
			tc, err := acc.complete(calls)
			calls++
			if err != nil {
				out.send(Failure(protocolError(a.spec.ID, "%v", err)))
				return
			}
			if !out.send(ToolCallComplete(tc)) {
				return
			}
		}
		if chunk.Done {
			if !out.send(UsageEvent(chunk.PromptEvalCount, chunk.EvalCount)) {
				return
			}
			reason := chunk.DoneReason
			if reason == "" {
				reason = "stop"
			}
			out.send(Done(reason))
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if !cancelled(ctx, err) {
			out.send(Failure(transportError(a.spec.ID, err)))
		}
		return
	}
	out.send(Done("eof"))
}
