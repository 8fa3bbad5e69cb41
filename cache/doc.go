// Package cache provides the short-lived server-result cache.
//
// It provides a TTL key-value store with lazy and periodic expiry, a
// deterministic key scheme derived from resource name and query parameters,
// and TTL policies. Entries are disposable: losing any of them only costs an
// extra round-trip.
package cache
