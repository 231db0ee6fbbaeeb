package route

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Cache is the resolver's result cache. Every Set also registers the key in
// a side index; Flush reads that index and evicts every registered key plus
// the index itself in one batch. There is no automatic invalidation on route
// changes; callers flush explicitly after administrative edits.
type Cache interface {
	// Get unmarshals the cached value for key into v. The second return is
	// false on a miss or an expired entry.
	Get(ctx context.Context, key string, v any) (bool, error)

	// Set stores v under key with the given TTL (0 means no expiry) and
	// registers the key in the side index.
	Set(ctx context.Context, key string, v any, ttl time.Duration) error

	// Flush evicts every registered key and clears the index, returning the
	// number of keys evicted.
	Flush(ctx context.Context) (int64, error)
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is the in-process Cache used when no Redis client is wired.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string, v any) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, v); err != nil {
		return false, err
	}
	return true, nil
}

// Set implements Cache. The entries map doubles as the key index.
func (c *MemoryCache) Set(_ context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	e := memoryEntry{data: data}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

// Flush implements Cache. Eviction happens under one lock, so it is atomic
// with respect to concurrent Get/Set calls.
func (c *MemoryCache) Flush(_ context.Context) (int64, error) {
	c.mu.Lock()
	n := int64(len(c.entries))
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return n, nil
}
