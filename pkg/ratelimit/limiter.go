package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Limiter is satisfied by rate limiting strategies keyed by caller.
type Limiter interface {
	Allow(key string) bool
	Wait(ctx context.Context, key string) error
	Reset(key string)
}

// TokenBucketLimiter implements token bucket rate limiting with one bucket per key.
type TokenBucketLimiter struct {
	mu       sync.RWMutex
	buckets  map[string]*tokenBucket
	rate     float64 // tokens per second
	capacity float64
	logger   *zap.Logger
	now      func() time.Time
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucketLimiter creates a limiter refilling rate tokens per second up to capacity.
func NewTokenBucketLimiter(rate float64, capacity int, logger *zap.Logger) *TokenBucketLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucketLimiter{
		buckets:  make(map[string]*tokenBucket),
		rate:     rate,
		capacity: float64(capacity),
		logger:   logger,
		now:      time.Now,
	}
}

// PerMinute builds a limiter from a requests-per-minute budget.
// The whole minute's budget is available as burst. Non-positive values disable limiting.
func PerMinute(requests int, logger *zap.Logger) Limiter {
	if requests <= 0 {
		return Unlimited{}
	}
	return NewTokenBucketLimiter(float64(requests)/60.0, requests, logger)
}

func (l *TokenBucketLimiter) bucket(key string) *tokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check after acquiring write lock
	if b, ok = l.buckets[key]; !ok {
		b = &tokenBucket{tokens: l.capacity, lastRefill: l.now()}
		l.buckets[key] = b
	}
	return b
}

// reserve takes a token if one is available, otherwise reports how long until one is.
func (l *TokenBucketLimiter) reserve(key string) (bool, time.Duration) {
	b := l.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = min(l.capacity, b.tokens+elapsed*l.rate)
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if l.rate <= 0 {
		return false, time.Second
	}
	return false, time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
}

// Allow takes a token for key without blocking.
func (l *TokenBucketLimiter) Allow(key string) bool {
	ok, _ := l.reserve(key)
	return ok
}

// Wait blocks until a token for key is available or ctx is done.
func (l *TokenBucketLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, delay := l.reserve(key)
		if ok {
			return nil
		}

		l.logger.Debug("Rate limit reached, waiting",
			zap.String("key", key),
			zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset removes the bucket for the given key
func (l *TokenBucketLimiter) Reset(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Unlimited never limits.
type Unlimited struct{}

func (Unlimited) Allow(string) bool                        { return true }
func (Unlimited) Wait(ctx context.Context, _ string) error { return ctx.Err() }
func (Unlimited) Reset(string)                             {}
