package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/soyeahso/playground/internal/logging"
)

// OpenAIAdapter speaks the OpenAI chat-completions streaming format. It
// serves every provider in FamilyOpenAI by pointing the client at a
// different base URL.
type OpenAIAdapter struct {
	spec       Spec
	baseURL    string
	keys       KeySource
	httpClient *http.Client
	log        *logging.Logger
}

// NewOpenAIAdapter creates an adapter for an OpenAI-compatible provider.
func NewOpenAIAdapter(spec Spec, opts Options) *OpenAIAdapter {
	b := newHTTPBase(spec, opts)
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &OpenAIAdapter{spec: spec, baseURL: b.baseURL, keys: opts.Keys, httpClient: hc, log: b.log}
}

func (a *OpenAIAdapter) ID() ID                     { return a.spec.ID }
func (a *OpenAIAdapter) Capabilities() Capabilities { return a.spec.Capabilities }

// Open validates req and starts the stream.
func (a *OpenAIAdapter) Open(ctx context.Context, req Request) (<-chan Event, error) {
	if verr := Validate(a.spec.ID, a.spec.Capabilities, req); verr != nil {
		return nil, verr
	}
	base := httpBase{spec: a.spec, keys: a.keys}
	key, kerr := base.apiKey()
	if kerr != nil {
		return nil, kerr
	}

	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = a.baseURL
	cfg.HTTPClient = a.httpClient
	client := openai.NewClientWithConfig(cfg)

	ccr, err := a.buildRequest(req)
	if err != nil {
		return nil, ConfigurationError(a.spec.ID, "%v", err)
	}

	ch := make(chan Event)
	go a.stream(ctx, client, ccr, ch)
	return ch, nil
}

func (a *OpenAIAdapter) buildRequest(req Request) (openai.ChatCompletionRequest, error) {
	ccr := openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
		Stream:      true,
	}
	if a.spec.ID == OpenAI {
		ccr.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	if req.System != "" {
		ccr.Messages = append(ccr.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		ccr.Messages = append(ccr.Messages, toOpenAIMessage(m))
	}

	for _, t := range req.Tools {
		ccr.Tools = append(ccr.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaOrEmpty(t.Parameters),
			},
		})
	}
	return ccr, nil
}

func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{Role: m.Role}
	switch m.Role {
	case RoleTool:
		out.Content = m.Content
		out.ToolCallID = m.ToolCallID
		out.Name = m.Name
		return out
	case RoleAssistant:
		out.Content = m.Content
		for _, tc := range m.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		return out
	}

	if len(m.Images) == 0 {
		out.Content = m.Content
		return out
	}
	// Content and MultiContent are mutually exclusive in the client.
	if m.Content != "" {
		out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
	}
	for _, img := range m.Images {
		out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: img.URL},
		})
	}
	return out
}

func (a *OpenAIAdapter) stream(ctx context.Context, client *openai.Client, ccr openai.ChatCompletionRequest, ch chan<- Event) {
	defer close(ch)
	out := emitter{ctx: ctx, ch: ch}

	stream, err := client.CreateChatCompletionStream(ctx, ccr)
	if err != nil {
		if cancelled(ctx, err) {
			return
		}
		out.send(Failure(a.classify(err)))
		return
	}
	defer stream.Close()

	acc := newToolCallAccumulator()
	var stopReason string
	for {
		if ctx.Err() != nil {
			return
		}
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cancelled(ctx, err) {
				return
			}
			out.send(Failure(a.classify(err)))
			return
		}

		if chunk.Usage != nil {
			if !out.send(UsageEvent(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)) {
				return
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !out.send(TextDelta(choice.Delta.Content)) {
					return
				}
			}
			for i, tc := range choice.Delta.ToolCalls {
				idx := i
				if tc.Index != nil {
					idx = *tc.Index
				}
				if !out.send(acc.add(idx, tc.ID, tc.Function.Name, tc.Function.Arguments)) {
					return
				}
			}
			if choice.FinishReason != "" {
				stopReason = string(choice.FinishReason)
				if !a.flushCalls(out, acc) {
					return
				}
			}
		}
	}

	if !a.flushCalls(out, acc) {
		return
	}
	if stopReason == "" {
		stopReason = "eof"
	}
	out.send(Done(stopReason))
}

// flushCalls completes every buffered tool call. It returns false when the
// stream should stop.
func (a *OpenAIAdapter) flushCalls(out emitter, acc *toolCallAccumulator) bool {
	calls, err := acc.drain()
	for _, tc := range calls {
		if !out.send(ToolCallComplete(tc)) {
			return false
		}
	}
	if err != nil {
		out.send(Failure(protocolError(a.spec.ID, "%v", err)))
		return false
	}
	return true
}

func (a *OpenAIAdapter) classify(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Provider: a.spec.ID, Kind: KindForStatus(apiErr.HTTPStatusCode), Code: apiErr.HTTPStatusCode, Message: apiErr.Message, Cause: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := err.Error()
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &Error{Provider: a.spec.ID, Kind: KindForStatus(reqErr.HTTPStatusCode), Code: reqErr.HTTPStatusCode, Message: msg, Cause: err}
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, openai.ErrTooManyEmptyStreamMessages) || strings.Contains(err.Error(), "unmarshal") {
		return &Error{Provider: a.spec.ID, Kind: KindProtocol, Message: err.Error(), Cause: err}
	}
	return transportError(a.spec.ID, err)
}
