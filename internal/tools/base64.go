package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Base64 encodes or decodes text.
func Base64() Tool {
	return Tool{
		Name:        "base64",
		Description: "Encode text to base64 or decode base64 to text.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"mode":{"type":"string","enum":["encode","decode"]},"text":{"type":"string"},"urlSafe":{"type":"boolean"}},"required":["mode","text"]}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				Mode    string `json:"mode"`
				Text    string `json:"text"`
				URLSafe bool   `json:"urlSafe"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return Result{}, err
			}
			out, err := transcodeBase64(in.Mode, in.Text, in.URLSafe)
			if err != nil {
				return Result{}, err
			}
			return Result{Type: "base64", Data: map[string]any{
				"mode":   in.Mode,
				"input":  in.Text,
				"output": out,
			}}, nil
		},
	}
}

func transcodeBase64(mode, text string, urlSafe bool) (string, error) {
	enc := base64.StdEncoding
	if urlSafe {
		enc = base64.URLEncoding
	}
	switch mode {
	case "encode":
		return enc.EncodeToString([]byte(text)), nil
	case "decode":
		raw := strings.TrimSpace(text)
		data, err := enc.DecodeString(raw)
		if err != nil {
			// Accept unpadded input.
			data, err = enc.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(raw, "="))
		}
		if err != nil {
			return "", fmt.Errorf("invalid base64: %w", err)
		}
		if !utf8.Valid(data) {
			return "", errors.New("decoded bytes are not valid UTF-8 text")
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("mode must be encode or decode, got %q", mode)
	}
}
