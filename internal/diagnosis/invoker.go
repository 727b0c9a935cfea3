package diagnosis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/abhisek/learndebug/internal/llm"
	"github.com/abhisek/learndebug/internal/logger"
)

const purposeDiagnosis = "diagnosis"

// InvokerConfig holds configuration for the model invoker.
type InvokerConfig struct {
	Retry       llm.RetryConfig
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// DefaultInvokerConfig returns the production retry policy and limits.
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		Retry:       llm.DefaultRetryConfig(),
		Timeout:     90 * time.Second,
		MaxTokens:   4096,
		Temperature: 0.4,
	}
}

// Invoker calls the model with the diagnostic protocol and classifies
// failures.
type Invoker struct {
	provider llm.Provider
	cfg      InvokerConfig
	log      *logger.Logger
}

// NewInvoker wraps provider with the configured retry policy.
func NewInvoker(provider llm.Provider, cfg InvokerConfig, log *logger.Logger) *Invoker {
	if log == nil {
		log = logger.Nop()
	}
	retry := cfg.Retry
	onRetry := retry.OnRetry
	retry.OnRetry = func(attempt, remaining int, wait time.Duration, err error) {
		log.Warn("model call failed, retrying",
			"attempt", attempt,
			"retries_left", remaining,
			"wait", wait,
			"error", err,
		)
		if onRetry != nil {
			onRetry(attempt, remaining, wait, err)
		}
	}
	return &Invoker{
		provider: llm.WithRetry(provider, retry),
		cfg:      cfg,
		log:      log,
	}
}

// Invoke sends prompt to the model and returns its raw text.
func (i *Invoker) Invoke(ctx context.Context, prompt *Prompt) (string, error) {
	ctx = llm.WithCall(ctx, llm.Call{Purpose: purposeDiagnosis, SessionID: prompt.SessionID})
	if i.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.Timeout)
		defer cancel()
	}

	req := llm.Request{
		System: systemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt.Text, Attachments: prompt.Attachments},
		},
		Schema:      AnalysisSchema,
		MaxTokens:   i.cfg.MaxTokens,
		Temperature: i.cfg.Temperature,
	}

	resp, err := i.provider.Generate(ctx, req)
	if err != nil {
		return "", classify(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", newError(KindFailed, errors.New("empty response from model"))
	}
	return text, nil
}

// classify maps provider errors onto pipeline kinds.
func classify(err error) *Error {
	var (
		rl      *llm.ErrRateLimit
		unavail *llm.ErrProviderUnavailable
		invalid *llm.ErrInvalidResponse
	)
	switch {
	case errors.As(err, &rl):
		return newError(KindRateLimited, err)
	case errors.As(err, &unavail):
		return newError(KindUnavailable, err)
	case errors.As(err, &invalid):
		return newError(KindMalformedResponse, err)
	default:
		return newError(KindFailed, err)
	}
}
