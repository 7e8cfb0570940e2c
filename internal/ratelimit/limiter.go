// Package ratelimit throttles mutating API calls per actor.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining float64, err error)
}

// LocalLimiter keeps one x/time/rate limiter per key in process memory.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewLocalLimiter allows bursts of capacity refilled at refillPerSecond.
func NewLocalLimiter(capacity int, refillPerSecond float64) *LocalLimiter {
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(refillPerSecond),
		burst:    capacity,
	}
}

func (l *LocalLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, float64, error) {
	lim := l.get(key)
	allowed := lim.Allow()
	return allowed, lim.Tokens(), nil
}

// Unlimited admits everything.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, float64, error) { return true, 0, nil }
