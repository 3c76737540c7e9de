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
	b := NewTokenBucket(clk, 10, 10)

	if !b.Allow(10) {
		t.Fatalf("expected initial burst to succeed")
	}
	if b.Allow(1) {
		t.Fatalf("expected bucket to be empty")
	}

	clk.Advance(100 * time.Millisecond) // 1 token at 10/sec.
	if !b.Allow(1) {
		t.Fatalf("expected refill after advance")
	}
	if b.Allow(1) {
		t.Fatalf("expected only one token refilled")
	}
}

func TestTokenBucket_CapacityClamp(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 2, 1)

	if !b.Allow(2) {
		t.Fatalf("expected initial tokens")
	}
	clk.Advance(time.Hour)
	if !b.Allow(2) {
		t.Fatalf("expected refill to capacity")
	}
	if b.Allow(1) {
		t.Fatalf("expected capacity clamp")
	}
}

func TestTokenBucket_TimeGoingBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}
	clk.Advance(-time.Minute)
	if b.Allow(1) {
		t.Fatalf("expected no refill when time goes backwards")
	}
}

func TestTokenBucket_NonPositiveCostAlwaysAllowed(t *testing.T) {
	b := NewTokenBucket(&fakeClock{}, 0, 0)
	if !b.Allow(0) || !b.Allow(-5) {
		t.Fatalf("non-positive costs must always be allowed")
	}
	if b.Allow(1) {
		t.Fatalf("zero-capacity bucket must reject positive costs")
	}
}
