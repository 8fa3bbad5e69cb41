// Package observe provides observability primitives for the card browsing
// runtime.
//
// It is a pure instrumentation library: structured logging, otel metrics
// for cache lookups, fetches and prefetch outcomes, and fetch spans.
// Components default to the no-op implementations and accept real ones
// through options.
package observe
