package webhooks

import (
	"sync"
	"time"
)

// RateLimiter caps delivery attempts per webhook with a token bucket per
// webhook ID.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	tokens  int
	period  time.Duration
}

type bucket struct {
	mu         sync.Mutex
	tokens     int
	max        int
	period     time.Duration
	lastRefill time.Time
}

// NewRateLimiter allows maxRequests per period for each webhook.
func NewRateLimiter(maxRequests int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		tokens:  maxRequests,
		period:  period,
	}
}

// Allow reports whether the webhook may attempt another delivery now.
func (rl *RateLimiter) Allow(webhookID string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[webhookID]
	if !ok {
		b = &bucket{tokens: rl.tokens, max: rl.tokens, period: rl.period, lastRefill: time.Now()}
		rl.buckets[webhookID] = b
	}
	rl.mu.Unlock()
	return b.take()
}

// Reset clears the webhook's bucket.
func (rl *RateLimiter) Reset(webhookID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, webhookID)
}

func (b *bucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed >= b.period {
		periods := int(elapsed / b.period)
		b.tokens = min(b.tokens+periods, b.max)
		b.lastRefill = b.lastRefill.Add(time.Duration(periods) * b.period)
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}
