package model

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Model so Generate waits for a token before reaching the
// backend. Parallel subagent dispatches share one wrapped model, so the limit
// applies to the whole invocation tree.
type RateLimited struct {
	Model
	limiter *rate.Limiter
}

// NewRateLimited wraps m with a limiter refilling rpm requests per minute and
// allowing bursts of up to burst requests. rpm <= 0 disables limiting.
func NewRateLimited(m Model, rpm, burst int) *RateLimited {
	r := rate.Inf
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{Model: m, limiter: rate.NewLimiter(r, burst)}
}

// Generate implements Model.
func (r *RateLimited) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	if err := r.limiter.Wait(ctx); err != nil {
		respCh := make(chan Response)
		errCh := make(chan error, 1)
		close(respCh)
		errCh <- fmt.Errorf("rate limit wait: %w", err)
		close(errCh)
		return respCh, errCh
	}
	return r.Model.Generate(ctx, req)
}
