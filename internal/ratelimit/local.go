package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LocalLimiter is an in-process token bucket with no shared state across
// instances. spec.md §4.6 treats this as explicitly non-production ("a
// per-process limiter is a non-goal" once more than one gateway process is
// running): only this package's tests construct it, and cmd/gatewayd
// always uses RedisLimiter.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	now     func() time.Time
}

type localBucket struct {
	tokens float64
	ts     time.Time
}

// NewLocalLimiter builds a LocalLimiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{buckets: make(map[string]*localBucket), now: time.Now}
}

// Allow implements Limiter with the same refill arithmetic as the Redis
// script, minus the cross-process atomicity Redis provides.
func (l *LocalLimiter) Allow(_ context.Context, rule Rule, principal string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := rule.Name + ":" + principal
	now := l.now()

	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{tokens: float64(rule.Capacity), ts: now}
		l.buckets[key] = b
	}

	delta := now.Sub(b.ts)
	if delta < 0 {
		delta = 0
	}
	refill := float64(delta) * float64(rule.Capacity) / float64(rule.Window)
	b.tokens = minFloat(float64(rule.Capacity), b.tokens+refill)
	b.ts = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	need := 1 - b.tokens
	retryAfter := time.Duration(need * float64(rule.Window) / float64(rule.Capacity))
	return false, retryAfter
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
