package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidResource is returned when a resource name cannot be used as a key prefix.
var ErrInvalidResource = errors.New("cache: resource name is invalid")

// Keyer generates deterministic cache keys from a resource and its query parameters.
//
// Contract:
// - Determinism: same inputs must produce same key, regardless of map iteration order.
// - Uniqueness: different inputs must never produce the same key.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key generates a cache key from a resource name, query parameters and
	// secondary options (sort, limit). Either of params and options may be nil.
	Key(resource string, params, options any) (string, error)
}

// DefaultKeyer generates readable, unhashed cache keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key generates a deterministic cache key.
// Format: <resource>:<canonical JSON(params)>|<canonical JSON(options)>
//
// The key is not hashed, so two parameter sets share a key only when their
// canonical forms are equal.
func (k *DefaultKeyer) Key(resource string, params, options any) (string, error) {
	if resource == "" || strings.ContainsAny(resource, ":|\n\r") {
		return "", ErrInvalidResource
	}

	p, err := canonicalize(params)
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize params: %w", err)
	}
	o, err := canonicalize(options)
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize options: %w", err)
	}

	var b strings.Builder
	b.Grow(len(resource) + len(p) + len(o) + 2)
	b.WriteString(resource)
	b.WriteByte(':')
	b.Write(p)
	b.WriteByte('|')
	b.Write(o)
	return b.String(), nil
}

// Prefix returns the prefix shared by every key generated for resource.
func Prefix(resource string) string {
	return resource + ":"
}

// canonicalize produces a deterministic JSON representation of the input.
// Maps are sorted by key to ensure consistent ordering.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	case string, bool, float64, json.Number:
		return json.Marshal(val)
	default:
		// Structs and typed maps go through a generic round trip so their
		// fields are ordered like any other object.
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return nil, err
		}
		switch g := generic.(type) {
		case map[string]any:
			return canonicalizeMap(g)
		case []any:
			return canonicalizeSlice(g)
		default:
			return raw, nil
		}
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	// Sort keys
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Build ordered JSON object
	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
