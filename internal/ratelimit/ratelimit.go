package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements token bucket rate limiting
type TokenBucket struct {
	capacity   float64 // maximum tokens
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// newTokenBucket creates a bucket that starts full.
func newTokenBucket(capacity, refillRate int, now func() time.Time) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: float64(refillRate),
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes one token if available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	if elapsed := now.Sub(tb.lastRefill); elapsed > 0 {
		tb.tokens += elapsed.Seconds() * tb.refillRate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// RateLimiter keeps one bucket per route.
type RateLimiter struct {
	buckets map[string]*TokenBucket
	mu      sync.RWMutex

	rps   int
	burst int
	now   func() time.Time
}

// NewRateLimiter returns nil when rps is not positive, which disables limiting.
// A burst below 1 falls back to rps.
func NewRateLimiter(rps, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rps
	}
	return &RateLimiter{
		buckets: make(map[string]*TokenBucket),
		rps:     rps,
		burst:   burst,
		now:     time.Now,
	}
}

// Allow reports whether a request for route may proceed. A nil limiter
// allows everything.
func (rl *RateLimiter) Allow(route string) bool {
	if rl == nil {
		return true
	}
	rl.mu.RLock()
	bucket, exists := rl.buckets[route]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		if bucket, exists = rl.buckets[route]; !exists {
			bucket = newTokenBucket(rl.burst, rl.rps, rl.now)
			rl.buckets[route] = bucket
		}
		rl.mu.Unlock()
	}

	return bucket.Allow()
}
