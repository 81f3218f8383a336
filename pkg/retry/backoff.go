package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// BackoffStrategy computes the delay before the attempt that follows attempt
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
	Reset()
}

// NewBackoff builds a strategy by name: "constant", "linear" or "exponential".
// base is the first delay; growth for linear and exponential is capped at
// 30 times base.
func NewBackoff(kind string, base time.Duration) (BackoffStrategy, error) {
	switch strings.ToLower(kind) {
	case "constant", "":
		return &ConstantBackoff{Delay: base}, nil
	case "linear":
		return &LinearBackoff{BaseDelay: base, Increment: base, MaxDelay: 30 * base}, nil
	case "exponential":
		return &ExponentialBackoff{BaseDelay: base, MaxDelay: 30 * base, Multiplier: 2.0, JitterFactor: 0.1}, nil
	default:
		return nil, fmt.Errorf("unknown backoff %q", kind)
	}
}

// ExponentialBackoff multiplies the delay each attempt, with jitter
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFactor in [0,1] spreads delays to avoid synchronized retries
	JitterFactor float64
}

// DefaultExponentialBackoff starts at one second and caps at a minute
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}
	return jitter(delay, eb.JitterFactor)
}

func (eb *ExponentialBackoff) Reset() {}

// LinearBackoff grows the delay by a fixed increment
type LinearBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Increment    time.Duration
	JitterFactor float64
}

func (lb *LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(lb.BaseDelay + lb.Increment*time.Duration(attempt-1))
	if lb.MaxDelay > 0 && delay > float64(lb.MaxDelay) {
		delay = float64(lb.MaxDelay)
	}
	return jitter(delay, lb.JitterFactor)
}

func (lb *LinearBackoff) Reset() {}

// ConstantBackoff waits the same delay every time
type ConstantBackoff struct {
	Delay time.Duration
}

func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

func (cb *ConstantBackoff) Reset() {}

func jitter(delay, factor float64) time.Duration {
	if factor > 0 {
		spread := delay * factor
		delay += rand.Float64()*2*spread - spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Wait sleeps for delay or until ctx is done, whichever comes first
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
