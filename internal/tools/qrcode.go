package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
	maxQRText     = 2048
)

// QRCode renders text as a QR code PNG data URL.
func QRCode() Tool {
	return Tool{
		Name:        "generate_qr_code",
		Description: "Generate a QR code image for a piece of text or a URL.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"},"size":{"type":"integer","minimum":64,"maximum":1024,"description":"Edge length in pixels (default 256)"}},"required":["text"]}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				Text string `json:"text"`
				Size int    `json:"size"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return Result{}, err
			}
			url, size, err := RenderQRCode(in.Text, in.Size)
			if err != nil {
				return Result{}, err
			}
			return Result{Type: "qr_code", Data: map[string]any{
				"text":    in.Text,
				"size":    size,
				"dataUrl": url,
			}}, nil
		},
	}
}

// RenderQRCode returns a PNG data URL and the effective size.
func RenderQRCode(text string, size int) (string, int, error) {
	if text == "" {
		return "", 0, errors.New("text is required")
	}
	if len(text) > maxQRText {
		return "", 0, fmt.Errorf("text longer than %d bytes", maxQRText)
	}
	if size == 0 {
		size = defaultQRSize
	}
	if size < minQRSize || size > maxQRSize {
		return "", 0, fmt.Errorf("size must be %d-%d, got %d", minQRSize, maxQRSize, size)
	}

	code, err := qr.Encode(text, qr.M, qr.Auto)
	if err != nil {
		return "", 0, fmt.Errorf("encoding qr: %w", err)
	}
	code, err = barcode.Scale(code, size, size)
	if err != nil {
		return "", 0, fmt.Errorf("scaling qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return "", 0, fmt.Errorf("encoding png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), size, nil
}
