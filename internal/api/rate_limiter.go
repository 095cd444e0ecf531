package api

import (
	"sync"
	"time"
)

// RateLimiter implements per-account token buckets
type RateLimiter struct {
	buckets    map[string]*tokenBucket
	bucketsMux sync.Mutex
	limit      int
	period     time.Duration
	now        func() time.Time
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter allows limit requests per period for each key
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// Allow consumes one token for key, refilling in proportion to elapsed time
func (rl *RateLimiter) Allow(key string) bool {
	rl.bucketsMux.Lock()
	defer rl.bucketsMux.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: rl.limit, lastRefill: now}
		rl.buckets[key] = bucket
	}

	elapsed := now.Sub(bucket.lastRefill)
	if elapsed >= rl.period {
		bucket.tokens = rl.limit
		bucket.lastRefill = now
	} else if refill := int(elapsed.Nanoseconds() * int64(rl.limit) / rl.period.Nanoseconds()); refill > 0 {
		bucket.tokens = min(bucket.tokens+refill, rl.limit)
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

// Period is the refill window
func (rl *RateLimiter) Period() time.Duration {
	return rl.period
}

// Cleanup drops buckets idle for longer than maxIdle
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.bucketsMux.Lock()
	defer rl.bucketsMux.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	for key, bucket := range rl.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}
