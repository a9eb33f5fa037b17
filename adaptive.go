package connector

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// minAdaptiveRate is the floor the adaptive limiter never tunes below, in
// tokens per period.
const minAdaptiveRate = 0.5

// Header spellings checked for the quota triple. Lookup through
// http.Header.Get is case-insensitive, so lowercase variants are covered.
var (
	limitHeaders     = []string{"X-RateLimit-Limit", "X-Rate-Limit-Limit", "RateLimit-Limit"}
	remainingHeaders = []string{"X-RateLimit-Remaining", "X-Rate-Limit-Remaining", "RateLimit-Remaining"}
	resetHeaders     = []string{"X-RateLimit-Reset", "X-Rate-Limit-Reset", "RateLimit-Reset"}
)

// AdaptiveState is the last quota observation parsed from response headers.
type AdaptiveState struct {
	Limit     int
	Remaining int
	Reset     time.Time
	UpdatedAt time.Time
}

// AdaptiveRateLimiter is a token bucket whose refill rate is retuned from
// server quota headers after each response. The rate never exceeds the
// initial configured rate and never drops below 0.5 tokens per period.
type AdaptiveRateLimiter struct {
	*RateLimiter

	initialRate  float64
	safetyFactor float64

	state AdaptiveState
}

// NewAdaptiveRateLimiter creates an adaptive bucket. safetyFactor is
// clamped to [0.1, 1.0]; the headroom it leaves keeps the client under the
// server's real quota even when several processes share it.
func NewAdaptiveRateLimiter(rate float64, period time.Duration, burst float64, maxDelay time.Duration, safetyFactor float64) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		RateLimiter:  NewRateLimiter(rate, period, burst, maxDelay),
		initialRate:  rate,
		safetyFactor: math.Min(1.0, math.Max(0.1, safetyFactor)),
	}
}

// State returns the last quota observation.
func (a *AdaptiveRateLimiter) State() AdaptiveState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// UpdateFromHeaders retunes the refill rate from one completed HTTP
// response. Two mechanisms can fire: the limit/remaining/reset triple and a
// Retry-After header; when both do, the lower resulting rate wins.
func (a *AdaptiveRateLimiter) UpdateFromHeaders(headers http.Header) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	newRate := -1.0

	limit, okLimit := firstIntHeader(headers, limitHeaders)
	remaining, okRemaining := firstIntHeader(headers, remainingHeaders)
	reset, okReset := firstResetHeader(headers)

	if okLimit && okRemaining && okReset {
		a.state = AdaptiveState{Limit: limit, Remaining: remaining, Reset: reset, UpdatedAt: now}

		if reset.After(now) {
			secondsLeft := reset.Sub(now).Seconds()
			candidate := float64(remaining) / secondsLeft * a.period.Seconds() * a.safetyFactor
			newRate = math.Max(minAdaptiveRate, math.Min(a.initialRate, candidate))
		}
	}

	if retryAfter, ok := parseRetryAfter(headers.Get("Retry-After"), now); ok && retryAfter > 0 {
		// Server asked us to back off: one token per ~10s until the next
		// observation retunes the rate.
		penalty := a.period.Seconds() / 10.0
		if newRate < 0 || penalty < newRate {
			newRate = penalty
		}
	}

	if newRate > 0 {
		a.refillLocked()
		a.rate = newRate
	}
}

func firstIntHeader(headers http.Header, names []string) (int, bool) {
	for _, name := range names {
		if v := headers.Get(name); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// firstResetHeader parses the reset instant: a unix timestamp in seconds or
// milliseconds (disambiguated by magnitude), or an RFC 3339 string.
func firstResetHeader(headers http.Header) (time.Time, bool) {
	for _, name := range resetHeaders {
		v := strings.TrimSpace(headers.Get(name))
		if v == "" {
			continue
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			if n > 1e12 { // milliseconds
				return time.UnixMilli(n), true
			}
			return time.Unix(n, 0), true
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseRetryAfter handles both forms of the header: integer seconds and an
// HTTP date.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		return t.Sub(now), true
	}
	return 0, false
}
