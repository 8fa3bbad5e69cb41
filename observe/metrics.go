package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Prefetch outcomes.
const (
	PrefetchCompleted = "completed"
	PrefetchCached    = "cached"
	PrefetchCancelled = "cancelled"
	PrefetchFailed    = "failed"
	PrefetchSkipped   = "skipped"
)

// Metrics records cache and fetch metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordLookup records a cache lookup against the named store.
	RecordLookup(ctx context.Context, store string, hit bool)

	// RecordFetch records a network fetch with duration and error status.
	RecordFetch(ctx context.Context, meta FetchMeta, duration time.Duration, err error)

	// RecordPrefetch records how a speculative fetch ended.
	RecordPrefetch(ctx context.Context, outcome string)
}

type metricsImpl struct {
	lookups      metric.Int64Counter
	fetches      metric.Int64Counter
	fetchErrors  metric.Int64Counter
	durationHist metric.Float64Histogram
	prefetches   metric.Int64Counter
}

// NewMetrics creates Metrics backed by the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	lookups, err := meter.Int64Counter(
		"cards.cache.lookups",
		metric.WithDescription("Cache lookups by store and result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	fetches, err := meter.Int64Counter(
		"cards.fetch.total",
		metric.WithDescription("Total number of cards service fetches"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	fetchErrors, err := meter.Int64Counter(
		"cards.fetch.errors",
		metric.WithDescription("Total number of failed cards service fetches"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"cards.fetch.duration_ms",
		metric.WithDescription("Cards service fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	prefetches, err := meter.Int64Counter(
		"cards.prefetch.outcomes",
		metric.WithDescription("Speculative fetches by outcome"),
		metric.WithUnit("{prefetch}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		lookups:      lookups,
		fetches:      fetches,
		fetchErrors:  fetchErrors,
		durationHist: durationHist,
		prefetches:   prefetches,
	}, nil
}

func (m *metricsImpl) RecordLookup(ctx context.Context, store string, hit bool) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.store", store),
		attribute.Bool("cache.hit", hit),
	))
}

func (m *metricsImpl) RecordFetch(ctx context.Context, meta FetchMeta, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("fetch.kind", meta.Kind))

	m.fetches.Add(ctx, 1, opt)
	if err != nil && !errors.Is(err, context.Canceled) {
		m.fetchErrors.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

func (m *metricsImpl) RecordPrefetch(ctx context.Context, outcome string) {
	m.prefetches.Add(ctx, 1, metric.WithAttributes(attribute.String("prefetch.outcome", outcome)))
}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics {
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) RecordLookup(context.Context, string, bool)                     {}
func (noopMetrics) RecordFetch(context.Context, FetchMeta, time.Duration, error) {}
func (noopMetrics) RecordPrefetch(context.Context, string)                       {}
