package natsclient

import (
	"sync"
	"time"
)

// breaker guards Connect. Every threshold consecutive failures open it for
// the current backoff, and each opening doubles the backoff up to max. Once
// the open period has passed the next attempt goes through.
type breaker struct {
	mu sync.Mutex

	threshold int
	base      time.Duration
	max       time.Duration
	now       func() time.Time

	backoff     time.Duration
	round       int // failures since the last opening
	failures    int // failures since the last success
	lastFailure time.Time
	openUntil   time.Time
}

func newBreaker(threshold int, base, max time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		base:      base,
		max:       max,
		now:       time.Now,
		backoff:   base,
	}
}

// allow reports whether a connect attempt may run now
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.openUntil)
}

// open reports whether attempts are currently refused
func (b *breaker) open() bool {
	return !b.allow()
}

// failure records a failed attempt and reports whether it opened the breaker
func (b *breaker) failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.failures++
	b.round++
	b.lastFailure = now

	if b.round < b.threshold {
		return false
	}
	b.round = 0
	b.openUntil = now.Add(b.backoff)
	b.backoff *= 2
	if b.backoff > b.max {
		b.backoff = b.max
	}
	return true
}

// success closes the breaker and restores the base backoff
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.round = 0
	b.backoff = b.base
	b.lastFailure = time.Time{}
	b.openUntil = time.Time{}
}

// BreakerState is a snapshot of the connect circuit breaker
type BreakerState struct {
	Open        bool          `json:"open"`
	Failures    int           `json:"failures"`
	NextBackoff time.Duration `json:"next_backoff"`
	LastFailure time.Time     `json:"last_failure,omitempty"`
	RetryAt     time.Time     `json:"retry_at,omitempty"`
}

func (b *breaker) snapshot() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BreakerState{
		Failures:    b.failures,
		NextBackoff: b.backoff,
		LastFailure: b.lastFailure,
	}
	if b.now().Before(b.openUntil) {
		st.Open = true
		st.RetryAt = b.openUntil
	}
	return st
}
