package natsclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time          { return c.t }
func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*breaker, *stepClock) {
	clock := &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := newBreaker(threshold, time.Second, time.Minute)
	b.now = clock.now
	return b, clock
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	assert.False(t, b.failure())
	assert.False(t, b.failure())
	assert.True(t, b.allow())

	assert.True(t, b.failure())
	assert.False(t, b.allow())

	st := b.snapshot()
	assert.True(t, st.Open)
	assert.Equal(t, 3, st.Failures)
	assert.Equal(t, 2*time.Second, st.NextBackoff)
}

func TestBreaker_AllowsAttemptAfterBackoff(t *testing.T) {
	b, clock := newTestBreaker(1)

	assert.True(t, b.failure())
	clock.advance(999 * time.Millisecond)
	assert.True(t, b.open())

	clock.advance(time.Millisecond)
	assert.True(t, b.allow())

	// the trial attempt fails and reopens for the doubled backoff
	assert.True(t, b.failure())
	clock.advance(time.Second)
	assert.True(t, b.open())
	clock.advance(time.Second)
	assert.False(t, b.open())
}

func TestBreaker_BackoffIsCapped(t *testing.T) {
	b, _ := newTestBreaker(1)
	for i := 0; i < 20; i++ {
		b.failure()
	}
	assert.Equal(t, time.Minute, b.snapshot().NextBackoff)
}

func TestBreaker_SuccessResets(t *testing.T) {
	b, _ := newTestBreaker(2)
	b.failure()
	b.failure()
	b.failure()

	b.success()
	st := b.snapshot()
	assert.False(t, st.Open)
	assert.Zero(t, st.Failures)
	assert.Equal(t, time.Second, st.NextBackoff)
	assert.True(t, st.LastFailure.IsZero())

	assert.False(t, b.failure(), "the round restarts after a success")
}
