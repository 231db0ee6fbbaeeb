package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/hookline/route"
)

// compile-time interface check
var _ route.Cache = (*Cache)(nil)

// Cache implements route.Cache on Redis. Every Set registers its key in a
// side set so Flush can evict exactly the keys this cache wrote, in one
// transaction, without a keyspace scan.
type Cache struct {
	rdb goredis.UniversalClient
}

// NewCache wraps a Redis client as a resolver cache.
func NewCache(rdb goredis.UniversalClient) *Cache {
	return &Cache{rdb: rdb}
}

// Get unmarshals the cached value for key into v.
func (c *Cache) Get(ctx context.Context, key string, v any) (bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores v under key with the given TTL and registers the key in the
// side index. The write and the index update go out in one pipeline.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("hookline/redis: marshal cache entry: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, cacheKey(key), raw, ttl)
	pipe.SAdd(ctx, sRouteCacheIndex, key)
	_, err = pipe.Exec(ctx)
	return err
}

// Flush evicts every registered key and the index itself in one transaction,
// so a resolver running concurrently sees either the full cache or none of it.
func (c *Cache) Flush(ctx context.Context) (int64, error) {
	keys, err := c.rdb.SMembers(ctx, sRouteCacheIndex).Result()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	full := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		full = append(full, cacheKey(key))
	}
	full = append(full, sRouteCacheIndex)

	pipe := c.rdb.TxPipeline()
	del := pipe.Del(ctx, full...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	evicted := del.Val() - 1 // exclude the index key
	if evicted < 0 {
		evicted = 0
	}
	return evicted, nil
}
