// Package ratelimit provides token bucket rate limiting for outbound
// deliveries, keyed by route identifier.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter implements token bucket rate limiting per route.
//
// A rate of 0 means unlimited. Rates can be set per key; keys without an
// explicit rate use the default.
type Limiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	rates       map[string]int
	defaultRate int
}

type bucket struct {
	tokens    float64
	lastFill  time.Time
	rateLimit float64 // tokens per second
}

// New creates a rate limiter with the given default per-key rate. Zero means
// unlimited unless a key has its own rate.
func New(defaultRate int) *Limiter {
	return &Limiter{
		buckets:     make(map[string]*bucket),
		rates:       make(map[string]int),
		defaultRate: defaultRate,
	}
}

// SetRate sets the per-second rate for a key, replacing its bucket.
func (l *Limiter) SetRate(key string, perSecond int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rates[key] = perSecond
	delete(l.buckets, key)
}

// Allow reports whether a delivery to the key may proceed now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rate := l.rateFor(key)
	if rate <= 0 {
		return true
	}

	b := l.getOrCreateBucket(key, float64(rate))
	b.refill()

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until the rate limit allows the delivery or the context is
// cancelled. Unlimited keys return immediately.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		if l.Allow(key) {
			return nil
		}

		l.mu.Lock()
		rate := l.rateFor(key)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(float64(time.Second) / float64(rate))):
			// Try again after estimated wait.
		}
	}
}

// Reset clears the bucket state for a key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func (l *Limiter) rateFor(key string) int {
	if rate, ok := l.rates[key]; ok {
		return rate
	}
	return l.defaultRate
}

func (l *Limiter) getOrCreateBucket(key string, rateLimit float64) *bucket {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:    rateLimit, // start full
			lastFill:  time.Now(),
			rateLimit: rateLimit,
		}
		l.buckets[key] = b
	}
	return b
}

func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * b.rateLimit
	if b.tokens > b.rateLimit {
		b.tokens = b.rateLimit // cap at burst size = rate limit
	}
	b.lastFill = now
}
