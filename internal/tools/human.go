package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// HumanPrompter asks the person at the keyboard a question.
type HumanPrompter interface {
	Ask(ctx context.Context, question string) (string, error)
}

// PrompterFunc adapts a function to HumanPrompter.
type PrompterFunc func(ctx context.Context, question string) (string, error)

// Ask implements HumanPrompter.
func (f PrompterFunc) Ask(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// AskHuman lets the model ask the user a clarifying question mid-turn.
func AskHuman(p HumanPrompter) Tool {
	return Tool{
		Name:        "ask_human",
		Description: "Ask the user a clarifying question and wait for their answer.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"question":{"type":"string"}},"required":["question"]}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				Question string `json:"question"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return Result{}, err
			}
			if strings.TrimSpace(in.Question) == "" {
				return Result{}, errors.New("question is required")
			}
			if p == nil {
				return Result{}, errors.New("no human is available to answer")
			}
			answer, err := p.Ask(ctx, in.Question)
			if err != nil {
				return Result{}, err
			}
			return Result{Type: "human_response", Data: map[string]any{
				"question": in.Question,
				"answer":   answer,
			}}, nil
		},
	}
}
