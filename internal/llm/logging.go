package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/abhisek/learndebug/internal/logger"
	"github.com/abhisek/learndebug/internal/store"
)

// RequestObserver receives one observation per provider call.
type RequestObserver interface {
	ObserveLLMRequest(provider, outcome string, latency time.Duration, usage Usage)
}

// LoggingProvider is a decorator that records every provider call as an
// event, a log line and a metric observation.
type LoggingProvider struct {
	inner    Provider
	provider string
	events   store.LLMEventRepo
	log      *logger.Logger
	observer RequestObserver
}

// LoggingOption configures a LoggingProvider.
type LoggingOption func(*LoggingProvider)

// WithEventRepo persists every call to repo.
func WithEventRepo(repo store.LLMEventRepo) LoggingOption {
	return func(l *LoggingProvider) { l.events = repo }
}

// WithObserver reports every call to o.
func WithObserver(o RequestObserver) LoggingOption {
	return func(l *LoggingProvider) { l.observer = o }
}

// WithLogging wraps a Provider with request logging.
func WithLogging(p Provider, providerName string, log *logger.Logger, opts ...LoggingOption) Provider {
	if log == nil {
		log = logger.Nop()
	}
	l := &LoggingProvider{inner: p, provider: providerName, log: log}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	call := CallFrom(ctx)

	resp, err := l.inner.Generate(ctx, req)

	latency := time.Since(start)
	outcome := Outcome(err)

	data := store.LLMRequestEventData{
		Provider:    l.provider,
		Model:       l.inner.ModelID(),
		Purpose:     call.Purpose,
		LatencyMs:   latency.Milliseconds(),
		Success:     err == nil,
		RequestBody: serializeRequest(req),
	}

	var usage Usage
	if resp != nil {
		usage = resp.Usage
		data.InputTokens = resp.Usage.InputTokens
		data.OutputTokens = resp.Usage.OutputTokens
		data.Model = resp.Model
		data.ResponseBody = string(resp.Content)
	}

	if err != nil {
		data.ErrorMessage = err.Error()
		l.log.Warn("model request failed",
			"provider", l.provider,
			"model", data.Model,
			"purpose", call.Purpose,
			"session_id", call.SessionID,
			"attempt", call.Attempt,
			"outcome", outcome,
			"latency_ms", data.LatencyMs,
			"error", err,
		)
	} else {
		l.log.Debug("model request",
			"provider", l.provider,
			"model", data.Model,
			"purpose", call.Purpose,
			"session_id", call.SessionID,
			"attempt", call.Attempt,
			"input_tokens", data.InputTokens,
			"output_tokens", data.OutputTokens,
			"latency_ms", data.LatencyMs,
		)
	}

	if l.observer != nil {
		l.observer.ObserveLLMRequest(l.provider, outcome, latency, usage)
	}

	// A failed event write never fails the request.
	if l.events != nil {
		if logErr := l.events.AppendLLMRequest(context.WithoutCancel(ctx), data); logErr != nil {
			l.log.Warn("failed to record model request event", "error", logErr)
		}
	}

	return resp, err
}

func (l *LoggingProvider) ModelID() string {
	return l.inner.ModelID()
}

// serializeRequest builds a readable representation of the request.
// Attachment bytes are summarized, not copied.
func serializeRequest(req Request) string {
	var b strings.Builder

	if req.System != "" {
		b.WriteString("[system]\n")
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}

	for _, m := range req.Messages {
		fmt.Fprintf(&b, "[%s]\n", m.Role)
		b.WriteString(m.Content)
		b.WriteString("\n")
		for _, a := range m.Attachments {
			fmt.Fprintf(&b, "[attachment: %s, %d bytes]\n", a.MIMEType, len(a.Data))
		}
		b.WriteString("\n")
	}

	if req.Schema != nil {
		schemaDef, err := json.Marshal(req.Schema.Definition)
		if err == nil {
			fmt.Fprintf(&b, "[schema: %s]\n", req.Schema.Name)
			b.Write(schemaDef)
			b.WriteString("\n")
		}
	}

	return b.String()
}
