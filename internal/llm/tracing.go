package llm

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingProvider opens a span around every provider call.
type TracingProvider struct {
	inner    Provider
	provider string
	tracer   trace.Tracer
}

// WithTracing wraps a Provider with OpenTelemetry spans.
func WithTracing(p Provider, providerName string, tracer trace.Tracer) Provider {
	return &TracingProvider{inner: p, provider: providerName, tracer: tracer}
}

func (t *TracingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	call := CallFrom(ctx)
	ctx, span := t.tracer.Start(ctx, "llm.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", t.provider),
			attribute.String("llm.model", t.inner.ModelID()),
			attribute.String("llm.purpose", call.Purpose),
			attribute.Int("llm.attempt", call.Attempt),
			attribute.Int("llm.attachments", countAttachments(req)),
		),
	)
	defer span.End()

	resp, err := t.inner.Generate(ctx, req)
	span.SetAttributes(attribute.String("llm.outcome", Outcome(err)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
		attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
		attribute.String("llm.stop_reason", resp.StopReason),
	)
	return resp, nil
}

func (t *TracingProvider) ModelID() string {
	return t.inner.ModelID()
}

func countAttachments(req Request) int {
	n := 0
	for _, m := range req.Messages {
		n += len(m.Attachments)
	}
	return n
}
