package ratelimit

import (
	"sync"
	"time"
)

// One token is 1e9 nano-tokens, so a fill rate of X tokens/sec adds exactly
// X nano-tokens per elapsed nanosecond without float rounding.
const nanoPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket is a deterministic token bucket refilled at an integer
// tokens/sec rate from an injectable Clock.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	fillRate int64 // tokens/sec

	availableNano int64
	last          time.Time
}

func NewTokenBucket(clock Clock, capacity, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:         clock,
		capacity:      capacity,
		fillRate:      fillRate,
		availableNano: toNano(capacity),
		last:          clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.availableNano < cost {
		return false
	}
	b.availableNano -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; re-anchor without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last)
	b.last = now

	if elapsed <= 0 || b.fillRate <= 0 || b.capacity <= 0 {
		return
	}

	capNano := toNano(b.capacity)
	if b.availableNano >= capNano {
		b.availableNano = capNano
		return
	}

	// Clamp instead of multiplying when elapsed time alone would overflow or
	// fill the bucket.
	need := capNano - b.availableNano
	elapsedNanos := elapsed.Nanoseconds()
	if fillTime := need / b.fillRate; fillTime <= 0 || elapsedNanos >= fillTime {
		b.availableNano = capNano
		return
	}

	b.availableNano += elapsedNanos * b.fillRate
	if b.availableNano > capNano {
		b.availableNano = capNano
	}
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoPerToken {
		return maxInt64
	}
	return tokens * nanoPerToken
}
