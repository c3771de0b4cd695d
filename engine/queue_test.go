package engine_test

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/testutil"
)

type write struct {
	data   string
	onPool bool
}

type queueHarness struct {
	clock    *testutil.FakeClock
	metrics  *countingMetrics
	queue    *engine.RequestQueue
	writes   []write
	received *recorder
	timeouts atomic.Int32
}

func newQueueHarness(t *testing.T, schedule func(func())) *queueHarness {
	t.Helper()

	h := &queueHarness{
		clock:    testutil.NewFakeClock(),
		metrics:  &countingMetrics{},
		received: &recorder{},
	}
	h.queue = engine.NewRequestQueue(h.clock, engine.DefaultLongTermTimeout, engine.QueueHooks{
		Write:    func(data string, onPool bool) { h.writes = append(h.writes, write{data, onPool}) },
		Received: h.received.add,
		Timeout:  func() { h.timeouts.Add(1) },
		Schedule: schedule,
	}, h.metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func TestRequestQueue_AtMostOneActive(t *testing.T) {
	h := newQueueHarness(t, nil)
	responses := &recorder{}

	for _, cmd := range []string{"first", "second", "third"} {
		cmd := cmd
		h.queue.Enqueue(cmd, true, time.Second, func(frame string) {
			responses.add(cmd + "=" + frame)
		})
	}

	assert.True(t, h.queue.HasActive())
	assert.Equal(t, 2, h.queue.Length())
	assert.Equal(t, int64(2), h.metrics.queueLength.Load())
	require.Equal(t, []write{{"first", true}}, h.writes)

	h.queue.HandleReceivedData("r1")

	assert.Equal(t, []string{"first=r1"}, responses.get())
	assert.Equal(t, 1, h.queue.Length())
	require.Equal(t, []write{{"first", true}, {"second", false}}, h.writes)

	h.queue.HandleReceivedData("r2")
	h.queue.HandleReceivedData("r3")

	assert.Equal(t, []string{"first=r1", "second=r2", "third=r3"}, responses.get())
	assert.Equal(t, []string{"r1", "r2", "r3"}, h.received.get())
	assert.Equal(t, 0, h.queue.Length())
	assert.False(t, h.queue.HasActive())
	assert.Zero(t, h.timeouts.Load())
}

func TestRequestQueue_BlindSendDoesNotHoldSlot(t *testing.T) {
	h := newQueueHarness(t, nil)

	h.queue.Enqueue("a", true, 0, nil)
	h.queue.Enqueue("b", true, 0, nil)

	assert.False(t, h.queue.HasActive())
	assert.Equal(t, 0, h.queue.Length())
	assert.Equal(t, []write{{"a", true}, {"b", true}}, h.writes)
}

func TestRequestQueue_SendBehindRequestWaits(t *testing.T) {
	h := newQueueHarness(t, nil)
	got := &recorder{}

	h.queue.Enqueue("query", true, time.Second, got.add)
	h.queue.Enqueue("fire", true, 0, nil)

	assert.Equal(t, 1, h.queue.Length())
	assert.Len(t, h.writes, 1)

	h.queue.HandleReceivedData("answer")

	assert.Equal(t, []string{"answer"}, got.get())
	assert.Equal(t, []write{{"query", true}, {"fire", false}}, h.writes)
	assert.False(t, h.queue.HasActive())
}

func TestRequestQueue_ConsecutiveSendsLeaveInOnePass(t *testing.T) {
	h := newQueueHarness(t, nil)
	got := &recorder{}

	h.queue.Enqueue("query", true, time.Second, got.add)
	h.queue.Enqueue("fire1", true, 0, nil)
	h.queue.Enqueue("fire2", true, 0, nil)
	h.queue.Enqueue("status", true, time.Second, got.add)

	h.queue.HandleReceivedData("answer")

	assert.Equal(t, []write{{"query", true}, {"fire1", false}, {"fire2", false}, {"status", false}}, h.writes)
	assert.Equal(t, []string{"answer"}, got.get())
	assert.True(t, h.queue.HasActive(), "the next request holds the slot")
	assert.Equal(t, 0, h.queue.Length())
}

func TestRequestQueue_TimeoutFiresFromTimer(t *testing.T) {
	h := newQueueHarness(t, nil)
	got := &recorder{}

	h.queue.Enqueue("ping", true, time.Second, got.add)
	h.queue.Enqueue("next", true, time.Second, got.add)

	h.clock.Advance(time.Second)
	assert.Zero(t, h.timeouts.Load(), "not expired at exactly the timeout")

	h.clock.Advance(2 * time.Millisecond)
	assert.Equal(t, int32(1), h.timeouts.Load())
	assert.Equal(t, []write{{"ping", true}, {"next", false}}, h.writes)

	h.queue.HandleReceivedData("pong")
	assert.Equal(t, []string{"pong"}, got.get(), "the promoted request gets the frame")
}

func TestRequestQueue_ExpiredOnReceiveIsNotPaired(t *testing.T) {
	// timer tasks are swallowed so only the receive path sees the expiry
	h := newQueueHarness(t, func(func()) {})
	got := &recorder{}

	h.queue.Enqueue("ping", true, time.Second, got.add)
	h.clock.Advance(2 * time.Second)

	h.queue.HandleReceivedData("late")

	assert.Empty(t, got.get())
	assert.Equal(t, int32(1), h.timeouts.Load())
	assert.Equal(t, []string{"late"}, h.received.get())
	assert.False(t, h.queue.HasActive())
}

func TestRequestQueue_LongTermExpiry(t *testing.T) {
	h := newQueueHarness(t, nil)
	stale := &recorder{}
	fresh := &recorder{}

	h.queue.Enqueue("slow", true, 2*time.Minute, stale.add)
	h.queue.Enqueue("stale", true, time.Second, stale.add)

	h.clock.Advance(30 * time.Second)
	h.queue.Enqueue("fresh", true, time.Second, fresh.add)
	assert.Equal(t, 2, h.queue.Length())

	h.clock.Advance(31 * time.Second)
	h.queue.ProcessQueue()

	// the active request long-term expired, the stale entry was dropped
	// unanswered, and the fresh one became active
	assert.Equal(t, int32(1), h.timeouts.Load())
	assert.Equal(t, int64(1), h.metrics.expired.Load())
	assert.Equal(t, 0, h.queue.Length())
	assert.True(t, h.queue.HasActive())
	assert.Equal(t, []write{{"slow", true}, {"fresh", false}}, h.writes)

	h.queue.HandleReceivedData("ok")
	assert.Empty(t, stale.get())
	assert.Equal(t, []string{"ok"}, fresh.get())
}

func TestRequestQueue_ReceiveOnly(t *testing.T) {
	h := newQueueHarness(t, nil)
	got := &recorder{}

	h.queue.Enqueue("", false, time.Second, got.add)
	assert.Empty(t, h.writes)
	assert.True(t, h.queue.HasActive())

	h.queue.HandleReceivedData("unsolicited")
	assert.Equal(t, []string{"unsolicited"}, got.get())
}

func TestRequestQueue_EchoSuppression(t *testing.T) {
	h := newQueueHarness(t, nil)
	h.queue.SetEchoSuppression(true)
	got := &recorder{}

	h.queue.Enqueue("ls -l\n", true, time.Second, got.add)

	h.queue.HandleReceivedData("ls -l")
	assert.Empty(t, got.get())
	assert.True(t, h.queue.HasActive())

	h.queue.HandleReceivedData("total 0")
	assert.Equal(t, []string{"total 0"}, got.get())
	assert.Equal(t, []string{"ls -l", "total 0"}, h.received.get())
}

func TestRequestQueue_Clear(t *testing.T) {
	h := newQueueHarness(t, nil)
	got := &recorder{}

	h.queue.Enqueue("a", true, time.Second, got.add)
	h.queue.Enqueue("b", true, time.Second, got.add)
	h.queue.Enqueue("c", true, time.Second, got.add)
	require.Equal(t, 1, h.clock.Pending())

	h.queue.Clear()

	assert.Equal(t, 0, h.queue.Length())
	assert.False(t, h.queue.HasActive())
	assert.Equal(t, 0, h.clock.Pending())

	h.clock.Advance(time.Minute)
	h.queue.HandleReceivedData("x")
	assert.Empty(t, got.get())
	assert.Zero(t, h.timeouts.Load())
}
