package provider

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited spaces out stream opens for one provider. It waits for a
// token before opening and never retries on its own.
type RateLimited struct {
	Adapter
	limiter *rate.Limiter
}

// WithRateLimit wraps a with a limiter allowing perMinute opens per minute.
// A non-positive perMinute returns a unchanged.
func WithRateLimit(a Adapter, perMinute int) Adapter {
	if perMinute <= 0 {
		return a
	}
	every := time.Minute / time.Duration(perMinute)
	return &RateLimited{Adapter: a, limiter: rate.NewLimiter(rate.Every(every), 1)}
}

// Open validates req, waits for a token, then delegates.
func (r *RateLimited) Open(ctx context.Context, req Request) (<-chan Event, error) {
	if verr := Validate(r.ID(), r.Capabilities(), req); verr != nil {
		return nil, verr
	}
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Provider: r.ID(), Kind: KindRateLimit, Message: "local rate limit: " + err.Error(), Cause: err}
	}
	return r.Adapter.Open(ctx, req)
}
