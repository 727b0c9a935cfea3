package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrRateLimit indicates the provider rejected the call for quota reasons (429).
type ErrRateLimit struct {
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

// ErrInvalidResponse indicates the model returned content that does not
// conform to the requested schema.
type ErrInvalidResponse struct {
	Content json.RawMessage
	Err     error
}

func (e *ErrInvalidResponse) Error() string {
	return fmt.Sprintf("invalid model response: %v", e.Err)
}

func (e *ErrInvalidResponse) Unwrap() error { return e.Err }

// ErrProviderUnavailable indicates the provider is overloaded or down (503).
type ErrProviderUnavailable struct {
	Err error
}

func (e *ErrProviderUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model provider unavailable: %v", e.Err)
	}
	return "model provider unavailable"
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

// ErrProviderFailed covers every other provider failure: transport errors,
// unexpected status codes and empty responses.
type ErrProviderFailed struct {
	StatusCode int
	Err        error
}

func (e *ErrProviderFailed) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("model provider failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model provider failed: %v", e.Err)
}

func (e *ErrProviderFailed) Unwrap() error { return e.Err }

// errorForStatus maps an HTTP status reported by a provider SDK onto the
// typed errors above.
func errorForStatus(status int, err error) error {
	switch status {
	case http.StatusTooManyRequests:
		return &ErrRateLimit{Err: err}
	case http.StatusServiceUnavailable, 529:
		return &ErrProviderUnavailable{Err: err}
	default:
		return &ErrProviderFailed{StatusCode: status, Err: err}
	}
}

// Outcome labels err for logs and metrics: "success", "rate_limited",
// "unavailable", "invalid_response", "canceled" or "failed".
func Outcome(err error) string {
	var (
		rl      *ErrRateLimit
		unavail *ErrProviderUnavailable
		invalid *ErrInvalidResponse
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &unavail):
		return "unavailable"
	case errors.As(err, &invalid):
		return "invalid_response"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "failed"
	}
}
