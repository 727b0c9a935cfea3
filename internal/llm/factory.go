package llm

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/abhisek/learndebug/internal/logger"
	"github.com/abhisek/learndebug/internal/store"
)

// Deps carries the collaborators the provider middleware reports to.
// Every field is optional.
type Deps struct {
	Logger   *logger.Logger
	Events   store.LLMEventRepo
	Observer RequestObserver
	Tracer   trace.Tracer
}

// NewProvider creates a Provider from configuration, wrapped as
// caller → logging → tracing → base. Retry is applied by the caller so
// every attempt is logged separately.
func NewProvider(ctx context.Context, cfg Config, deps Deps) (Provider, error) {
	var base Provider
	var err error

	switch cfg.Provider {
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "openrouter":
		base, err = NewOpenRouterProvider(cfg.OpenRouter)
	case "mock":
		base = NewOfflineProvider()
	default:
		return nil, fmt.Errorf("unknown model provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	if deps.Tracer != nil {
		base = WithTracing(base, cfg.Provider, deps.Tracer)
	}

	var opts []LoggingOption
	if deps.Events != nil {
		opts = append(opts, WithEventRepo(deps.Events))
	}
	if deps.Observer != nil {
		opts = append(opts, WithObserver(deps.Observer))
	}
	return WithLogging(base, cfg.Provider, deps.Logger, opts...), nil
}
