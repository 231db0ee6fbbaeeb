// Package redis provides the Redis-backed pieces of Hookline: the resolver's
// route cache and the dispatch job queue. Record persistence stays in the
// relational store; Redis only carries ephemeral state.
package redis

// Key prefixes for the route cache.
const (
	prefixRouteCache = "hookline:rc:"
	sRouteCacheIndex = "hookline:s:rc:keys"
)

// Keys for the dispatch queue.
const (
	zDispatchReady = "hookline:z:dispatch:ready"
)

// cacheKey returns the primary key for a cached resolution bucket.
func cacheKey(key string) string {
	return prefixRouteCache + key
}
