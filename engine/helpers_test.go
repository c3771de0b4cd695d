package engine_test

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/devlink/engine"
)

type countingMetrics struct {
	connects      atomic.Int64
	disconnects   atomic.Int64
	bytesReceived atomic.Int64
	bytesSent     atomic.Int64
	framesIn      atomic.Int64
	framesOut     atomic.Int64
	timeouts      atomic.Int64
	expired       atomic.Int64
	errors        atomic.Int64
	queueLength   atomic.Int64
}

func (m *countingMetrics) IncrConnects()          { m.connects.Add(1) }
func (m *countingMetrics) IncrDisconnects()       { m.disconnects.Add(1) }
func (m *countingMetrics) AddBytesReceived(n int) { m.bytesReceived.Add(int64(n)) }
func (m *countingMetrics) AddBytesSent(n int)     { m.bytesSent.Add(int64(n)) }
func (m *countingMetrics) IncrFramesReceived()    { m.framesIn.Add(1) }
func (m *countingMetrics) IncrFramesSent()        { m.framesOut.Add(1) }
func (m *countingMetrics) IncrTimeouts()          { m.timeouts.Add(1) }
func (m *countingMetrics) AddExpired(n int)       { m.expired.Add(int64(n)) }
func (m *countingMetrics) IncrErrors()            { m.errors.Add(1) }
func (m *countingMetrics) SetQueueLength(n int)   { m.queueLength.Store(int64(n)) }

var _ engine.Metrics = (*countingMetrics)(nil)

// recorder collects strings from concurrent callbacks.
type recorder struct {
	mu    sync.Mutex
	items []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.items = append(r.items, s)
	r.mu.Unlock()
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
