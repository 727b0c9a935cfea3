package llm

import "context"

// Call labels a model request for logs, events and spans.
type Call struct {
	Purpose   string
	SessionID string

	// Attempt is 1-based and set by the retry decorator.
	Attempt int
}

type callKey struct{}

// WithCall attaches call labels to ctx. An Attempt already on ctx is kept
// when c leaves it zero.
func WithCall(ctx context.Context, c Call) context.Context {
	if c.Attempt == 0 {
		c.Attempt = CallFrom(ctx).Attempt
	}
	return context.WithValue(ctx, callKey{}, c)
}

// CallFrom returns the call labels on ctx. Purpose is "unknown" and
// Attempt is 1 when unset.
func CallFrom(ctx context.Context) Call {
	c, _ := ctx.Value(callKey{}).(Call)
	if c.Purpose == "" {
		c.Purpose = "unknown"
	}
	if c.Attempt == 0 {
		c.Attempt = 1
	}
	return c
}

func withAttempt(ctx context.Context, attempt int) context.Context {
	c, _ := ctx.Value(callKey{}).(Call)
	c.Attempt = attempt
	return context.WithValue(ctx, callKey{}, c)
}
