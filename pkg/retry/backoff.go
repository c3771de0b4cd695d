package retry

import "time"

const (
	// DefaultMinGap is the shortest wait between two connection attempts.
	DefaultMinGap = 500 * time.Millisecond
	// DefaultMaxBackoff caps the exponential reconnect delay.
	DefaultMaxBackoff = 32 * time.Second
	// DatagramBackoff is the fixed retry delay for datagram sockets, where
	// failures are nearly always local bind contention.
	DatagramBackoff = 16 * time.Second

	// DefaultKickoff and DefaultKickoffSpread bound the staggered first
	// connect: Kickoff + [0, Spread).
	DefaultKickoff       = time.Second
	DefaultKickoffSpread = 5 * time.Second
)

// Backoff computes the delay before the next reconnect attempt.
type Backoff struct {
	MinGap     time.Duration
	Max        time.Duration
	Multiplier float64
	// Fixed, when set, replaces the exponential policy entirely.
	Fixed time.Duration
}

// ExponentialBackoff doubles from the minimum gap up to the cap.
func ExponentialBackoff() Backoff {
	return Backoff{
		MinGap:     DefaultMinGap,
		Max:        DefaultMaxBackoff,
		Multiplier: 2.0,
	}
}

// FixedBackoff always waits d.
func FixedBackoff(d time.Duration) Backoff {
	return Backoff{MinGap: d, Max: d, Multiplier: 1, Fixed: d}
}

// Initial is the delay in effect before any failure has been seen.
func (b Backoff) Initial() time.Duration {
	if b.Fixed > 0 {
		return b.Fixed
	}
	return b.MinGap
}

// Next returns the delay following current. A session that was live since
// the previous failure resets the delay to the minimum gap.
func (b Backoff) Next(current time.Duration, recentlyConnected bool) time.Duration {
	if b.Fixed > 0 {
		return b.Fixed
	}
	if recentlyConnected {
		return b.MinGap
	}

	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	next := grow(current, multiplier, b.Max)
	if next < b.MinGap {
		next = b.MinGap
	}
	return next
}

// Kickoff returns the randomised delay before a first connect so that many
// connections created together do not dial at the same instant.
func Kickoff() time.Duration {
	return DefaultKickoff + Jitter(DefaultKickoffSpread)
}
