// Package preload holds the session-long opportunistic caches that let the
// gallery show cards before they are asked for.
//
// A Cache groups four independent stores:
//
//   - card details, keyed by card id, kept for 10 minutes
//   - page results, keyed like the results cache, kept for 5 minutes
//   - image URLs already loaded (dedup only, never expires)
//   - embed URLs already loaded (dedup only; the load itself is released
//     after 3 seconds)
//
// Nothing here is a source of truth. Every lookup may miss, every load may
// fail silently, and concurrent writes to one key are last-write-wins.
//
// Media loads go through the Loader capability, so the dedup and TTL logic
// runs without any rendering environment. HTTPLoader warms HTTP caches by
// fetching and discarding the body.
package preload
