package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindRateLimit     Kind = "rate-limit"
	KindTransient     Kind = "transient"
	KindProtocol      Kind = "protocol"
	KindConfiguration Kind = "configuration"
)

// Error is the provider-agnostic failure carried by EventError and returned
// from Adapter.Open.
type Error struct {
	Provider ID     `json:"provider,omitempty"`
	Kind     Kind   `json:"kind"`
	Code     int    `json:"code,omitempty"` // HTTP status when known
	Message  string `json:"message"`
	Cause    error  `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(string(e.Provider))
		b.WriteString(": ")
	}
	if e.Code > 0 {
		fmt.Fprintf(&b, "%d ", e.Code)
	}
	b.WriteString(e.Message)
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Terminal reports whether retrying the same request cannot succeed without
// the user changing something.
func (e *Error) Terminal() bool {
	return e.Kind == KindAuth || e.Kind == KindConfiguration
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ConfigurationError reports a request that is illegal for the provider.
func ConfigurationError(id ID, format string, args ...any) *Error {
	return &Error{Provider: id, Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func protocolError(id ID, format string, args ...any) *Error {
	return &Error{Provider: id, Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}

// transportError wraps a failure that happened before a response arrived.
func transportError(id ID, err error) *Error {
	return &Error{Provider: id, Kind: KindTransient, Message: err.Error(), Cause: err}
}

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusRequestTimeout || code >= 500:
		return KindTransient
	default:
		return KindProtocol
	}
}

// statusError builds an error from a non-2xx response body.
func statusError(id ID, code int, body []byte) *Error {
	msg := errorMessage(body)
	if msg == "" {
		msg = http.StatusText(code)
	}
	return &Error{Provider: id, Kind: KindForStatus(code), Code: code, Message: msg}
}

// errorMessage digs a human-readable message out of the common error
// envelopes: {"error":{"message":..}}, {"error":".."} and {"message":".."}.
func errorMessage(body []byte) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(env.Error) > 0 {
		var s string
		if json.Unmarshal(env.Error, &s) == nil {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(env.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	if env.Message != "" {
		return env.Message
	}
	return strings.TrimSpace(string(body))
}

// cancelled reports whether err is the result of the caller giving up.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
