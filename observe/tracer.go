package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Fetch kinds.
const (
	KindPrimary  = "primary"
	KindPrefetch = "prefetch"
	KindPreload  = "preload"
)

// FetchMeta describes one request against the cards service.
type FetchMeta struct {
	Kind     string // primary|prefetch|preload
	Resource string // collection or card path
	Page     int    // 0 when not paginated
}

// SpanName returns the deterministic span name for this fetch.
// Format: cards.fetch.<kind>
func (m FetchMeta) SpanName() string {
	return "cards.fetch." + m.Kind
}

func (m FetchMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("fetch.kind", m.Kind),
		attribute.String("fetch.resource", m.Resource),
	}
	if m.Page > 0 {
		attrs = append(attrs, attribute.Int("fetch.page", m.Page))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with fetch-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, meta FetchMeta) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NopTracer()
	}
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta FetchMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("fetch.error", false))
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("fetch.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// NopTracer returns a tracer whose spans record nothing.
func NopTracer() Tracer {
	return &tracerImpl{tracer: tracenoop.NewTracerProvider().Tracer("noop")}
}
