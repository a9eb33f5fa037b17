package connector

import (
	"context"
	"math"
	"sync"
	"time"
)

// RateLimiter is a token bucket. Tokens accumulate continuously at rate
// tokens per period up to burst, and every request consumes one before it
// is sent. Admission is first-come-first-served at the internal lock.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	rate       float64 // tokens per period
	period     time.Duration
	maxDelay   time.Duration // 0 means wait indefinitely
	lastRefill time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a bucket that starts full. burst <= 0 defaults to
// floor(rate), with a minimum of one token.
func NewRateLimiter(rate float64, period time.Duration, burst float64, maxDelay time.Duration) *RateLimiter {
	if period <= 0 {
		period = time.Second
	}
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = math.Max(1, math.Floor(rate))
	}
	return &RateLimiter{
		tokens:     burst,
		burst:      burst,
		rate:       rate,
		period:     period,
		maxDelay:   maxDelay,
		lastRefill: time.Now(),
		now:        time.Now,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// refillLocked credits tokens for the time elapsed since the last refill.
func (r *RateLimiter) refillLocked() {
	now := r.now()
	elapsed := now.Sub(r.lastRefill)
	if elapsed > 0 {
		r.tokens = math.Min(r.burst, r.tokens+elapsed.Seconds()*r.rate/r.period.Seconds())
	}
	r.lastRefill = now
}

// Acquire blocks until n tokens are available and consumes them. When the
// computed wait would exceed the configured maximum delay it fails
// immediately with a RateLimitError, without sleeping or consuming tokens.
// The lock is held across the sleep, so waiters are admitted in arrival
// order.
func (r *RateLimiter) Acquire(ctx context.Context, n float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillLocked()

	if r.tokens >= n {
		r.tokens -= n
		return nil
	}

	wait := time.Duration((n - r.tokens) / r.rate * float64(r.period))
	if r.maxDelay > 0 && wait > r.maxDelay {
		return &RateLimitError{
			RetryAfter: wait,
			Reason:     "token wait exceeds max delay",
		}
	}

	if err := r.sleep(ctx, wait); err != nil {
		return err
	}

	// Time has advanced past the computed wait, so the refill covers n.
	r.refillLocked()
	r.tokens = math.Max(0, r.tokens-n)
	return nil
}

// Available returns the token count after crediting elapsed time.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refillLocked()
	return r.tokens
}

// SetRate changes the refill rate, in tokens per period.
func (r *RateLimiter) SetRate(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rate > 0 {
		r.refillLocked()
		r.rate = rate
	}
}

// Rate returns the current refill rate in tokens per period.
func (r *RateLimiter) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate
}
