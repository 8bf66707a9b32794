package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Typed stores JSON-encoded values of one type under a key prefix.
// Entries that fail to decode are treated as missing.
type Typed[V any] struct {
	backend Backend
	prefix  string
	ttl     time.Duration
}

// NewTyped wraps backend for values of type V
func NewTyped[V any](backend Backend, prefix string, ttl time.Duration) *Typed[V] {
	return &Typed[V]{backend: backend, prefix: prefix, ttl: ttl}
}

// Get returns the stored value for key
func (t *Typed[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	data, ok, err := t.backend.Get(ctx, t.prefix+key)
	if err != nil || !ok {
		return zero, false, err
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		slog.Warn("cache: dropping undecodable entry", "key", t.prefix+key, "error", err)
		return zero, false, nil
	}
	return v, true, nil
}

// GetMultiple returns the stored values found for keys
func (t *Typed[V]) GetMultiple(ctx context.Context, keys []string) (map[string]V, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = t.prefix + k
	}
	raw, err := t.backend.GetMultiple(ctx, prefixed)
	if err != nil {
		return nil, err
	}
	result := make(map[string]V, len(raw))
	for i, k := range keys {
		data, ok := raw[prefixed[i]]
		if !ok {
			continue
		}
		var v V
		if err := json.Unmarshal(data, &v); err != nil {
			slog.Warn("cache: dropping undecodable entry", "key", prefixed[i], "error", err)
			continue
		}
		result[k] = v
	}
	return result, nil
}

// Set stores v under key
func (t *Typed[V]) Set(ctx context.Context, key string, v V) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return t.backend.Set(ctx, t.prefix+key, data, t.ttl)
}

// Delete removes key
func (t *Typed[V]) Delete(ctx context.Context, key string) error {
	return t.backend.Delete(ctx, t.prefix+key)
}
