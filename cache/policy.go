package cache

import "time"

// Policy configures caching behavior.
type Policy struct {
	// DefaultTTL is the TTL used when Set is called with ttl=0.
	// If zero, caching is disabled.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Override TTLs are clamped to this.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration

	// SweepInterval is how often Start purges expired entries.
	// If zero, Start does nothing and expiry is purely lazy.
	SweepInterval time.Duration
}

// DefaultPolicy returns the default caching policy.
// DefaultTTL: 60 seconds, MaxTTL: 1 hour, SweepInterval: 60 seconds
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL:    60 * time.Second,
		MaxTTL:        1 * time.Hour,
		SweepInterval: 60 * time.Second,
	}
}

// NoCachePolicy returns a policy that disables caching entirely.
func NoCachePolicy() Policy {
	return Policy{}
}

// ShouldCache returns true if caching is enabled by this policy.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// EffectiveTTL returns the TTL to use, applying defaults and clamping.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	if !p.ShouldCache() || override < 0 {
		return 0
	}

	ttl := override
	if ttl == 0 {
		ttl = p.DefaultTTL
	}

	// Clamp to MaxTTL if set
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}

	return ttl
}
