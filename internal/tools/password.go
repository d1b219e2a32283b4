package tools

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()-_=+[]{};:,.?"
)

// PasswordOptions controls password generation.
type PasswordOptions struct {
	Length    int   `json:"length"`
	Uppercase *bool `json:"uppercase"`
	Numbers   *bool `json:"numbers"`
	Symbols   *bool `json:"symbols"`
}

// Password generates random passwords with crypto/rand.
func Password() Tool {
	return Tool{
		Name:        "generate_password",
		Description: "Generate a cryptographically random password.",
		Schema:      json.RawMessage(`{"type":"object","properties":{"length":{"type":"integer","minimum":8,"maximum":128},"uppercase":{"type":"boolean"},"numbers":{"type":"boolean"},"symbols":{"type":"boolean"}}}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in PasswordOptions
			if err := decodeArgs(args, &in); err != nil {
				return Result{}, err
			}
			pw, entropy, err := GeneratePassword(in)
			if err != nil {
				return Result{}, err
			}
			return Result{Type: "password", Data: map[string]any{
				"password":    pw,
				"length":      len(pw),
				"entropyBits": math.Round(entropy*10) / 10,
			}}, nil
		},
	}
}

// GeneratePassword returns a password containing at least one character of
// every enabled class, plus its entropy in bits.
func GeneratePassword(opts PasswordOptions) (string, float64, error) {
	length := opts.Length
	if length == 0 {
		length = 16
	}
	if length < 8 || length > 128 {
		return "", 0, fmt.Errorf("length must be 8-128, got %d", length)
	}
	enabled := func(b *bool) bool { return b == nil || *b }

	classes := []string{lowerChars}
	if enabled(opts.Uppercase) {
		classes = append(classes, upperChars)
	}
	if enabled(opts.Numbers) {
		classes = append(classes, digitChars)
	}
	if enabled(opts.Symbols) {
		classes = append(classes, symbolChars)
	}
	var all string
	for _, c := range classes {
		all += c
	}

	out := make([]byte, 0, length)
	for _, c := range classes {
		ch, err := randomChar(c)
		if err != nil {
			return "", 0, err
		}
		out = append(out, ch)
	}
	for len(out) < length {
		ch, err := randomChar(all)
		if err != nil {
			return "", 0, err
		}
		out = append(out, ch)
	}
	// Fisher-Yates so the guaranteed characters are not always first.
	for i := len(out) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", 0, err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), float64(length) * math.Log2(float64(len(all))), nil
}

func randomChar(set string) (byte, error) {
	i, err := randomInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randomInt(n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("empty range")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
