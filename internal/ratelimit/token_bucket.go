// Package ratelimit limits inbound signaling traffic per connection.
package ratelimit

import (
	"sync"
	"time"
)

// Tokens are tracked in fixed point: one token is 1e9 units, so a rate of N
// tokens/sec adds exactly N units per elapsed nanosecond.
const unitsPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket admits up to burst messages at once and refills at rate
// messages per second. A zero rate disables limiting.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock
	burst int64
	rate  int64

	units int64
	last  time.Time
}

// NewTokenBucket returns a full bucket. A nil clock uses the wall clock.
func NewTokenBucket(clock Clock, burst, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	burst = max(burst, 0)
	rate = max(rate, 0)
	return &TokenBucket{
		clock: clock,
		burst: burst,
		rate:  rate,
		units: toUnits(burst),
		last:  clock.Now(),
	}
}

// Unlimited reports whether the bucket admits everything.
func (b *TokenBucket) Unlimited() bool {
	return b == nil || b.rate == 0
}

// Allow takes n tokens if they are available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 || b.Unlimited() {
		return true
	}
	cost := toUnits(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.clock.Now())
	if b.units < cost {
		return false
	}
	b.units -= cost
	return true
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 {
		// Clock stepped backwards; just move the reference point.
		return
	}

	full := toUnits(b.burst)
	missing := full - b.units
	if missing <= 0 {
		b.units = full
		return
	}
	// elapsed*rate may overflow; compare against the time needed to fill instead.
	if elapsed >= missing/b.rate {
		b.units = full
		return
	}
	b.units += elapsed * b.rate
}

func toUnits(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/unitsPerToken {
		return maxInt64
	}
	return tokens * unitsPerToken
}
