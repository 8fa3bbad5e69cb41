package cache

import (
	"sync"
	"time"

	"github.com/jonwraymond/cardshelf/clock"
)

// Store is a typed TTL map. It holds no policy: every Set names its TTL.
//
// An entry is visible only while now < expiresAt. Expired entries are removed
// when read and by Sweep.
type Store[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[V]
	clock   clock.Clock
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewStore creates an empty store. A nil clock uses the real clock.
func NewStore[K comparable, V any](c clock.Clock) *Store[K, V] {
	return &Store[K, V]{
		entries: make(map[K]*entry[V]),
		clock:   clock.OrReal(c),
	}
}

// Get returns the value for key if it has not expired.
func (s *Store[K, V]) Get(key K) (V, bool) {
	now := s.clock.Now()

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}

	if !now.Before(e.expiresAt) {
		// Expired - clean up lazily, unless a writer replaced it meanwhile
		s.mu.Lock()
		if current, ok := s.entries[key]; ok && current == e {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return zero, false
	}

	return e.value, true
}

// Set stores value under key for ttl, replacing any existing entry.
// A non-positive ttl removes the key instead.
func (s *Store[K, V]) Set(key K, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		delete(s.entries, key)
		return
	}
	s.entries[key] = &entry[V]{value: value, expiresAt: s.clock.Now().Add(ttl)}
}

// Delete removes key. Idempotent.
func (s *Store[K, V]) Delete(key K) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// DeleteFunc removes every entry whose key satisfies match and returns how
// many were removed.
func (s *Store[K, V]) DeleteFunc(match func(K) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.entries {
		if match(k) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Clear removes every entry.
func (s *Store[K, V]) Clear() {
	s.mu.Lock()
	s.entries = make(map[K]*entry[V])
	s.mu.Unlock()
}

// Sweep removes all expired entries and returns how many were removed.
func (s *Store[K, V]) Sweep() int {
	now := s.clock.Now()
	return s.DeleteFunc(func(k K) bool {
		return !now.Before(s.entries[k].expiresAt)
	})
}

// Len returns the number of stored entries, expired or not.
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
