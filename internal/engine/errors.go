package engine

import (
	"errors"
	"fmt"

	"github.com/soyeahso/playground/internal/provider"
)

// KindToolLoopExceeded marks a session stopped by the tool round cap. It is
// kept apart from provider kinds so a safety cutoff is never mistaken for a
// provider failure.
const KindToolLoopExceeded provider.Kind = "tool-loop-exceeded"

var (
	// ErrNoProvider is returned when the requested provider is not registered.
	ErrNoProvider = errors.New("provider not configured")
	// ErrNothingToRetry is returned by Retry when the conversation has no
	// user message to resend.
	ErrNothingToRetry = errors.New("nothing to retry")
)

// Failure is the terminal error of a failed session.
type Failure struct {
	Kind    provider.Kind
	Message string
	Cause   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Cause }

// Retryable reports whether an explicit user retry may succeed unchanged.
// Sessions are never retried automatically.
func (f *Failure) Retryable() bool {
	return f.Kind == provider.KindTransient || f.Kind == provider.KindRateLimit
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// failureFrom converts any error raised while talking to a provider.
func failureFrom(err error) *Failure {
	if f, ok := AsFailure(err); ok {
		return f
	}
	if pe, ok := provider.AsError(err); ok {
		return &Failure{Kind: pe.Kind, Message: pe.Error(), Cause: pe}
	}
	return &Failure{Kind: provider.KindTransient, Message: err.Error(), Cause: err}
}
