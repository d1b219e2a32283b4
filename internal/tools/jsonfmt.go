package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FormatJSON pretty-prints or minifies a JSON document.
func FormatJSON() Tool {
	return Tool{
		Name:        "format_json",
		Description: "Validate and format a JSON document. indent=0 minifies.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"json":{"type":"string"},"indent":{"type":"integer","minimum":0,"maximum":8}},"required":["json"]}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				JSON   string `json:"json"`
				Indent *int   `json:"indent"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return Result{}, err
			}
			indent := 2
			if in.Indent != nil {
				indent = *in.Indent
			}
			out, err := formatJSON(in.JSON, indent)
			if err != nil {
				return Result{}, err
			}
			return Result{Type: "json", Data: map[string]any{
				"formatted": out,
				"valid":     true,
			}}, nil
		},
	}
}

func formatJSON(src string, indent int) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", errors.New("json is required")
	}
	if indent < 0 || indent > 8 {
		return "", fmt.Errorf("indent must be 0-8, got %d", indent)
	}
	var buf bytes.Buffer
	var err error
	if indent == 0 {
		err = json.Compact(&buf, []byte(src))
	} else {
		err = json.Indent(&buf, []byte(src), "", strings.Repeat(" ", indent))
	}
	if err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	return buf.String(), nil
}
