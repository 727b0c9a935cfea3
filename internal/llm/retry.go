package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryProvider retries transient failures with exponential backoff and
// jitter. Each attempt carries its number in the Call on the context.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// WithRetry wraps a Provider with retry logic.
func WithRetry(p Provider, cfg RetryConfig) Provider {
	cfg.MaxAttempts = max(cfg.MaxAttempts, 1)
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}
	return &RetryProvider{inner: p, config: cfg}
}

func (r *RetryProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := r.inner.Generate(withAttempt(ctx, attempt), req)
		if err == nil {
			return resp, nil
		}

		remaining := r.config.MaxAttempts - attempt
		if remaining <= 0 || !Retryable(err) {
			return nil, err
		}

		wait := r.wait(attempt, err)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, remaining, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *RetryProvider) ModelID() string {
	return r.inner.ModelID()
}

// Retryable reports whether another attempt may succeed. Every provider
// failure qualifies; cancellation and malformed responses do not.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var invalid *ErrInvalidResponse
	return !errors.As(err, &invalid)
}

// wait returns the pause after the given 1-based attempt. A server
// Retry-After hint wins over the computed backoff.
func (r *RetryProvider) wait(attempt int, err error) time.Duration {
	var rl *ErrRateLimit
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return r.bound(float64(rl.RetryAfter))
	}

	d := float64(r.config.InitialWait) * math.Pow(r.config.Multiplier, float64(attempt-1))
	d += d * 0.2 * (2*rand.Float64() - 1) // ±20%
	return r.bound(d)
}

func (r *RetryProvider) bound(d float64) time.Duration {
	if r.config.MaxWait > 0 {
		d = min(d, float64(r.config.MaxWait))
	}
	return time.Duration(max(d, float64(r.config.InitialWait), 0))
}
