package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache implements Backend with a bounded LRU.
// Entries carry their own expiry because TTLs differ per Set call.
type MemoryCache struct {
	lru *expirable.LRU[string, memoryCacheEntry]
}

type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryCacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryCache creates a new in-memory cache holding at most maxSize entries
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryCache{
		lru: expirable.NewLRU[string, memoryCacheEntry](maxSize, nil, 0),
	}
}

func newEntry(value []byte, ttl time.Duration) memoryCacheEntry {
	entry := memoryCacheEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	return entry
}

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if entry.expired(time.Now()) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.lru.Add(key, newEntry(value, ttl))
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *MemoryCache) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	now := time.Now()
	for _, key := range keys {
		entry, ok := m.lru.Get(key)
		if !ok {
			continue
		}
		if entry.expired(now) {
			m.lru.Remove(key)
			continue
		}
		result[key] = entry.value
	}
	return result, nil
}

func (m *MemoryCache) SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for key, value := range items {
		m.lru.Add(key, newEntry(value, ttl))
	}
	return nil
}

// Len returns the number of entries, including ones not yet found expired
func (m *MemoryCache) Len() int {
	return m.lru.Len()
}

func (m *MemoryCache) Close() error {
	m.lru.Purge()
	return nil
}
