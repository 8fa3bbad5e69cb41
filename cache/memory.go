package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/jonwraymond/cardshelf/clock"
)

// MemoryCache is an in-memory TTL cache.
//
// An entry is visible only while now < expiresAt. Expired entries are removed
// when read and by Sweep, which Start runs every Policy.SweepInterval.
type MemoryCache struct {
	store  *Store[string, []byte]
	policy Policy
	clock  clock.Clock
	name   string
	rec    Recorder

	sweepMu   sync.Mutex
	stopSweep func()
}

// Option configures a MemoryCache.
type Option func(*MemoryCache)

// WithClock sets the time source. Defaults to the real clock.
func WithClock(c clock.Clock) Option {
	return func(m *MemoryCache) {
		m.clock = clock.OrReal(c)
	}
}

// WithRecorder reports every lookup to r under the given store name.
func WithRecorder(name string, r Recorder) Option {
	return func(m *MemoryCache) {
		m.name = name
		if r != nil {
			m.rec = r
		}
	}
}

// NewMemoryCache creates a new in-memory cache with the given policy.
func NewMemoryCache(policy Policy, opts ...Option) *MemoryCache {
	m := &MemoryCache{
		policy: policy,
		clock:  clock.Real(),
		name:   "results",
		rec:    noopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.store = NewStore[string, []byte](m.clock)
	return m
}

// Policy returns the cache policy.
func (c *MemoryCache) Policy() Policy {
	return c.policy
}

// Get retrieves a value from the cache. Returns (nil, false) on miss or expiry.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, ok := c.store.Get(key)
	c.rec.RecordLookup(ctx, c.name, ok)
	if !ok {
		return nil, false
	}
	return value, true
}

// Set stores a value, overwriting any existing entry.
// TTL=0 uses the policy default; a negative TTL or a disabled policy skips caching.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	ttl = c.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}

	c.store.Set(key, value, ttl)
	return nil
}

// GetJSON decodes the cached value for key into v. It reports false on miss
// or when the stored bytes do not decode into v.
func (c *MemoryCache) GetJSON(ctx context.Context, key string, v any) bool {
	data, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// SetJSON encodes v as JSON and stores it under key.
func (c *MemoryCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

// DeletePrefix removes every entry whose key starts with prefix and returns
// how many were removed.
func (c *MemoryCache) DeletePrefix(prefix string) int {
	return c.store.DeleteFunc(func(k string) bool {
		return strings.HasPrefix(k, prefix)
	})
}

// Clear removes every entry.
func (c *MemoryCache) Clear() {
	c.store.Clear()
}

// Sweep removes all expired entries and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	return c.store.Sweep()
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	return c.store.Len()
}

// Start runs Sweep every Policy.SweepInterval until Stop is called.
// Calling Start twice is a no-op.
func (c *MemoryCache) Start() {
	if c.policy.SweepInterval <= 0 {
		return
	}
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.stopSweep != nil {
		return
	}
	c.stopSweep = clock.Every(c.clock, c.policy.SweepInterval, func() { c.Sweep() })
}

// Stop halts the background sweep. Idempotent.
func (c *MemoryCache) Stop() {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.stopSweep != nil {
		c.stopSweep()
		c.stopSweep = nil
	}
}

// Ensure MemoryCache implements Cache
var _ Cache = (*MemoryCache)(nil)
