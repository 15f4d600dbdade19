package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 5, 5)

	for i := 0; i < 5; i++ {
		if !b.Allow(1) {
			t.Fatalf("message %d of burst rejected", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("expected bucket to be empty after burst")
	}

	clk.Advance(200 * time.Millisecond)
	if !b.Allow(1) {
		t.Fatalf("expected one token after 200ms at 5/s")
	}
	if b.Allow(1) {
		t.Fatalf("expected only one token to have refilled")
	}
}

func TestTokenBucket_ClampsToBurst(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 2, 1)

	if !b.Allow(2) {
		t.Fatalf("expected initial burst")
	}
	clk.Advance(time.Hour)
	if !b.Allow(2) {
		t.Fatalf("expected refill up to burst")
	}
	if b.Allow(1) {
		t.Fatalf("expected refill to stop at burst")
	}
}

func TestTokenBucket_ClockGoesBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}
	clk.Advance(-10 * time.Second)
	if b.Allow(1) {
		t.Fatalf("backwards clock must not refill")
	}
	clk.Advance(time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill once time moves forward again")
	}
}

func TestTokenBucket_ZeroRateIsUnlimited(t *testing.T) {
	b := NewTokenBucket(nil, 0, 0)
	if !b.Unlimited() {
		t.Fatalf("expected zero rate to be unlimited")
	}
	for i := 0; i < 1000; i++ {
		if !b.Allow(1) {
			t.Fatalf("unlimited bucket rejected message %d", i)
		}
	}

	var nilBucket *TokenBucket
	if !nilBucket.Allow(1) {
		t.Fatalf("nil bucket must allow")
	}
}
