package cache

import (
	"context"
	"time"
)

// LoadFunc fetches a value from the source of truth on cache miss.
type LoadFunc func(ctx context.Context) ([]byte, error)

// ReadThrough wraps a loader with caching.
type ReadThrough struct {
	cache Cache
	keyer Keyer
	ttl   time.Duration
}

// NewReadThrough creates a read-through wrapper. ttl=0 uses the cache's
// policy default.
func NewReadThrough(cache Cache, keyer Keyer, ttl time.Duration) *ReadThrough {
	if keyer == nil {
		keyer = NewDefaultKeyer()
	}
	return &ReadThrough{cache: cache, keyer: keyer, ttl: ttl}
}

// CommitFunc gates the cache write of a freshly loaded value. Calling
// store performs the write; returning without calling it skips caching.
type CommitFunc func(store func())

// Fetch returns the cached value for (resource, params) or calls load.
// On cache hit, returns cached result without calling load.
// On cache miss, calls load and caches the result.
// Errors are NOT cached.
func (r *ReadThrough) Fetch(ctx context.Context, resource string, params any, load LoadFunc) ([]byte, error) {
	return r.FetchCommit(ctx, resource, params, load, nil)
}

// FetchCommit is Fetch with the cache write routed through commit. A nil
// commit always stores.
func (r *ReadThrough) FetchCommit(ctx context.Context, resource string, params any, load LoadFunc, commit CommitFunc) ([]byte, error) {
	if r == nil || r.cache == nil {
		return load(ctx)
	}

	key, err := r.keyer.Key(resource, params, nil)
	if err != nil {
		// Key generation failed - load without caching
		return load(ctx)
	}

	if cached, ok := r.cache.Get(ctx, key); ok {
		return cached, nil
	}

	result, err := load(ctx)
	if err != nil {
		return result, err
	}

	store := func() { _ = r.cache.Set(ctx, key, result, r.ttl) }
	if commit == nil {
		store()
	} else {
		commit(store)
	}
	return result, nil
}
