package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strings"
)

// GeminiAdapter speaks the Gemini streamGenerateContent format with alt=sse.
type GeminiAdapter struct {
	httpBase
}

// NewGeminiAdapter creates a Gemini adapter.
func NewGeminiAdapter(spec Spec, opts Options) *GeminiAdapter {
	return &GeminiAdapter{httpBase: newHTTPBase(spec, opts)}
}

// Open validates req and starts the stream.
func (a *GeminiAdapter) Open(ctx context.Context, req Request) (<-chan Event, error) {
	if verr := Validate(a.spec.ID, a.spec.Capabilities, req); verr != nil {
		return nil, verr
	}
	key, kerr := a.apiKey()
	if kerr != nil {
		return nil, kerr
	}

	path := "/v1beta/models/" + url.PathEscape(req.Model) + ":streamGenerateContent"
	headers := map[string]string{"x-goog-api-key": key}
	query := map[string]string{"alt": "sse"}

	ch := make(chan Event)
	go a.stream(ctx, path, headers, query, a.buildRequestBody(req), ch)
	return ch, nil
}

type geminiPart struct {
	Text         string          `json:"text,omitempty"`
	InlineData   *geminiBlob     `json:"inlineData,omitempty"`
	FileData     *geminiFile     `json:"fileData,omitempty"`
	FunctionCall *geminiFuncCall `json:"functionCall,omitempty"`
	FunctionResp *geminiFuncResp `json:"functionResponse,omitempty"`
}

type geminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFile struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type geminiFuncCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFuncResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

func (a *GeminiAdapter) buildRequestBody(req Request) map[string]any {
	system := req.System
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case RoleTool:
			var result any
			if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
				result = m.Content
			}
			contents = append(contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{FunctionResp: &geminiFuncResp{Name: m.Name, Response: map[string]any{"content": result}}}},
			})
		case RoleAssistant:
			c := geminiContent{Role: "model"}
			if m.Content != "" {
				c.Parts = append(c.Parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				c.Parts = append(c.Parts, geminiPart{FunctionCall: &geminiFuncCall{Name: tc.Name, Args: tc.Arguments}})
			}
			contents = append(contents, c)
		default:
			c := geminiContent{Role: "user"}
			for _, img := range m.Images {
				if mime, data, ok := splitDataURL(img.URL); ok {
					c.Parts = append(c.Parts, geminiPart{InlineData: &geminiBlob{MimeType: mime, Data: data}})
				} else {
					c.Parts = append(c.Parts, geminiPart{FileData: &geminiFile{MimeType: img.MimeType, FileURI: img.URL}})
				}
			}
			if m.Content != "" || len(c.Parts) == 0 {
				c.Parts = append(c.Parts, geminiPart{Text: m.Content})
			}
			contents = append(contents, c)
		}
	}

	body := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"temperature":     req.Temperature,
			"maxOutputTokens": req.MaxTokens,
			"topP":            req.TopP,
		},
	}
	if system != "" {
		body["systemInstruction"] = geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	if len(req.Tools) > 0 {
		decls := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  schemaOrEmpty(t.Parameters),
			}
		}
		body["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}
	return body
}

type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *GeminiAdapter) stream(ctx context.Context, path string, headers, query map[string]string, body any, ch chan<- Event) {
	defer close(ch)
	out := emitter{ctx: ctx, ch: ch}

	raw, oerr := a.openStream(ctx, path, headers, query, body)
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
	var usage *Usage
	var stopReason string
	calls := 0

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
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

		var chunk geminiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			out.send(Failure(protocolError(a.spec.ID, "malformed chunk: %v", err)))
			return
		}
		if chunk.Error != nil {
			out.send(Failure(&Error{Provider: a.spec.ID, Kind: KindForStatus(chunk.Error.Code), Code: chunk.Error.Code, Message: chunk.Error.Message}))
			return
		}
		if chunk.UsageMetadata != nil {
			usage = &Usage{InputTokens: chunk.UsageMetadata.PromptTokenCount, OutputTokens: chunk.UsageMetadata.CandidatesTokenCount}
		}
		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					// Gemini delivers whole calls without IDs.
					args := string(part.FunctionCall.Args)
					if !out.send(acc.add(calls, "", part.FunctionCall.Name, args)) {
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
				case part.Text != "":
					if !out.send(TextDelta(part.Text)) {
						return
					}
				}
			}
			if cand.FinishReason != "" {
				stopReason = cand.FinishReason
			}
		}
	}

	if usage != nil {
		if !out.send(Event{Type: EventUsage, Usage: usage}) {
			return
		}
	}
	if stopReason == "" {
		stopReason = "eof"
	}
	out.send(Done(stopReason))
}
