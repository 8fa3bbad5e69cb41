package observe

import (
	"context"
	"time"
)

// Middleware wraps cards service fetches with tracing, metrics, and logging.
//
// Contract:
//   - Concurrency: Run is safe for concurrent use.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
	now     func() time.Time
}

// NewMiddleware creates a new Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  OrNop(logger),
		now:     time.Now,
	}
}

// Run executes fn inside a span and records its duration and outcome.
// Prefetch failures log at debug level; other failures log as errors.
func (m *Middleware) Run(ctx context.Context, meta FetchMeta, fn func(ctx context.Context) error) error {
	if m == nil {
		return fn(ctx)
	}

	ctx, span := m.tracer.StartSpan(ctx, meta)
	start := m.now()

	err := fn(ctx)

	duration := m.now().Sub(start)
	m.tracer.EndSpan(span, err)
	m.metrics.RecordFetch(ctx, meta, duration, err)

	fields := []Field{
		F("fetch.kind", meta.Kind),
		F("fetch.resource", meta.Resource),
		F("duration_ms", float64(duration.Milliseconds())),
	}
	if meta.Page > 0 {
		fields = append(fields, F("fetch.page", meta.Page))
	}

	switch {
	case err == nil:
		m.logger.Debug(ctx, "fetch completed", fields...)
	case meta.Kind == KindPrefetch || meta.Kind == KindPreload:
		m.logger.Debug(ctx, "speculative fetch abandoned", append(fields, Err(err))...)
	default:
		m.logger.Error(ctx, "fetch failed", append(fields, Err(err))...)
	}

	return err
}

// Metrics returns the metrics sink used by the middleware.
func (m *Middleware) Metrics() Metrics {
	if m == nil {
		return NopMetrics()
	}
	return m.metrics
}

// Logger returns the logger used by the middleware.
func (m *Middleware) Logger() Logger {
	if m == nil {
		return NopLogger()
	}
	return m.logger
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
