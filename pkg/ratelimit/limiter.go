package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles outbound calls to a collaborator
type Limiter interface {
	// Allow takes a token without blocking
	Allow() bool
	// Wait blocks for a token or until ctx is done
	Wait(ctx context.Context) error
	// Reset refills the bucket
	Reset()
}

// TokenBucket allows capacity calls per period, refilled continuously
type TokenBucket struct {
	mu       sync.Mutex
	capacity int
	period   time.Duration
	limiter  *rate.Limiter
}

// NewTokenBucket creates a bucket that starts full
func NewTokenBucket(capacity int, period time.Duration) *TokenBucket {
	tb := &TokenBucket{capacity: capacity, period: period}
	tb.limiter = tb.newLimiter()
	return tb
}

// PerMinute is NewTokenBucket over one minute; n <= 0 disables throttling
func PerMinute(n int) Limiter {
	if n <= 0 {
		return Unlimited{}
	}
	return NewTokenBucket(n, time.Minute)
}

func (tb *TokenBucket) newLimiter() *rate.Limiter {
	if tb.capacity <= 0 || tb.period <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	every := tb.period / time.Duration(tb.capacity)
	return rate.NewLimiter(rate.Every(every), tb.capacity)
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limiter
}

func (tb *TokenBucket) Allow() bool {
	return tb.current().Allow()
}

func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.current().Wait(ctx)
}

func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.limiter = tb.newLimiter()
}

// Tokens reports the tokens available right now
func (tb *TokenBucket) Tokens() float64 {
	return tb.current().Tokens()
}

// Unlimited never throttles
type Unlimited struct{}

func (Unlimited) Allow() bool { return true }

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

func (Unlimited) Reset() {}
