package preload

import "sync"

var (
	defaultMu    sync.Mutex
	defaultCache *Cache
)

// Default returns the process-wide Cache, creating it with default options
// on first use. It lives until the process exits.
func Default() *Cache {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultCache == nil {
		defaultCache = New(Options{})
	}
	return defaultCache
}

// SetDefault replaces the process-wide Cache and returns a function that
// restores the previous one. Tests use it to inject a fresh instance.
func SetDefault(c *Cache) (restore func()) {
	defaultMu.Lock()
	prev := defaultCache
	defaultCache = c
	defaultMu.Unlock()

	return func() {
		defaultMu.Lock()
		defaultCache = prev
		defaultMu.Unlock()
	}
}
