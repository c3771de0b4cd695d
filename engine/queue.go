package engine

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultRequestTimeout is how long an active request waits for its response.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultLongTermTimeout bounds how long any request may sit in the queue.
	DefaultLongTermTimeout = 60 * time.Second
)

// RequestState tracks a queued request through its life.
type RequestState int

const (
	RequestQueued RequestState = iota
	RequestActive
	RequestFulfilled
	RequestExpired
)

type request struct {
	data      string
	hasData   bool
	queuedAt  time.Time
	startedAt time.Time
	timeout   time.Duration
	handler   func(string)
	state     RequestState
	stopTimer func() bool
}

// blind requests were sends with nobody waiting on the answer
func (r *request) blind() bool {
	return r.handler == nil || r.timeout <= 0
}

func (r *request) expired(now time.Time) bool {
	return now.Sub(r.startedAt) > r.timeout
}

func (r *request) longTermExpired(now time.Time, limit time.Duration) bool {
	return now.Sub(r.queuedAt) > limit
}

// QueueHooks connects a RequestQueue to its owner.
type QueueHooks struct {
	// Write sends a payload, on the pool when onPool is set or inline otherwise.
	Write func(data string, onPool bool)
	// Respond invokes a request's response handler.
	Respond func(handler func(string), frame string)
	// Received delivers every frame to the general receive handler.
	Received func(frame string)
	// Timeout fires the timeout handler.
	Timeout func()
	// Schedule runs a task off the timer goroutine.
	Schedule func(task func())
}

// RequestQueue pairs outbound requests with inbound frames. At most one
// request is active; the rest wait in FIFO order.
type RequestQueue struct {
	mu           sync.Mutex
	active       *request
	backlog      []*request
	suppressEcho bool

	clock    Clock
	longTerm time.Duration
	hooks    QueueHooks
	metrics  Metrics
	logger   *slog.Logger
}

// NewRequestQueue builds a queue. Nil hooks are ignored.
func NewRequestQueue(clock Clock, longTerm time.Duration, hooks QueueHooks, metrics Metrics, logger *slog.Logger) *RequestQueue {
	if clock == nil {
		clock = SystemClock()
	}
	if longTerm <= 0 {
		longTerm = DefaultLongTermTimeout
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if hooks.Write == nil {
		hooks.Write = func(string, bool) {}
	}
	if hooks.Respond == nil {
		hooks.Respond = func(h func(string), frame string) { h(frame) }
	}
	if hooks.Received == nil {
		hooks.Received = func(string) {}
	}
	if hooks.Timeout == nil {
		hooks.Timeout = func() {}
	}
	if hooks.Schedule == nil {
		hooks.Schedule = func(task func()) { task() }
	}

	return &RequestQueue{
		clock:    clock,
		longTerm: longTerm,
		hooks:    hooks,
		metrics:  metrics,
		logger:   logger,
	}
}

// SetEchoSuppression makes frames equal to the active request's command
// text bypass pairing.
func (q *RequestQueue) SetEchoSuppression(on bool) {
	q.mu.Lock()
	q.suppressEcho = on
	q.mu.Unlock()
}

// Enqueue adds a request. hasData false makes it receive-only. If nothing is
// active the request is activated and its payload written on the pool.
func (q *RequestQueue) Enqueue(data string, hasData bool, timeout time.Duration, handler func(string)) {
	r := &request{
		data:     data,
		hasData:  hasData,
		queuedAt: q.clock.Now(),
		timeout:  timeout,
		handler:  handler,
		state:    RequestQueued,
	}

	immediate := false

	q.mu.Lock()
	if q.active == nil {
		q.activate(r)
		immediate = true
	} else {
		q.backlog = append(q.backlog, r)
	}
	length := len(q.backlog)
	q.mu.Unlock()

	if immediate {
		q.logger.Debug("active request made", "data", data)
	} else {
		q.logger.Debug("queued a request", "data", data, "queue_length", length)
	}
	q.metrics.SetQueueLength(length)

	if immediate && hasData {
		q.hooks.Write(data, true)
	}

	q.ProcessQueue()
}

// HandleReceivedData resolves the active request with frame, delivers frame
// to the general receive hook and then advances the queue.
func (q *RequestQueue) HandleReceivedData(frame string) {
	q.mu.Lock()
	r := q.active
	if r != nil && q.suppressEcho && r.hasData && frame == strings.TrimSpace(r.data) {
		q.mu.Unlock()
		q.logger.Debug("ignoring echoed command", "data", frame)
		q.hooks.Received(frame)
		return
	}
	q.clearActiveLocked()
	q.mu.Unlock()

	if r != nil && r.timeout > 0 {
		if r.expired(q.clock.Now()) {
			q.logger.Debug("active request has expired")
			r.state = RequestExpired
			q.hooks.Timeout()
		} else {
			r.state = RequestFulfilled
			if r.handler != nil {
				q.hooks.Respond(r.handler, frame)
			}
		}
	}

	q.hooks.Received(frame)
	q.ProcessQueue()
}

// ProcessQueue expires the active request if due and promotes the next
// live backlog entry, writing its payload inline. Fire-and-forget entries
// are written one after another until a request that awaits a response
// becomes active.
func (q *RequestQueue) ProcessQueue() {
	for {
		next, ok := q.advance()
		if !ok {
			return
		}
		if next.hasData {
			q.hooks.Write(next.data, false)
		}
		if !next.blind() {
			return
		}
	}
}

// advance runs one pass over the active slot and the backlog. It returns
// the newly activated request, if any.
func (q *RequestQueue) advance() (*request, bool) {
	callTimeout := false

	q.mu.Lock()
	if r := q.active; r != nil {
		now := q.clock.Now()
		switch {
		case r.blind():
			q.clearActiveLocked()
		case r.expired(now):
			q.logger.Debug("active request has expired")
			r.state = RequestExpired
			callTimeout = true
			q.clearActiveLocked()
		case r.longTermExpired(now, q.longTerm):
			q.logger.Debug("active request has long term expired")
			r.state = RequestExpired
			callTimeout = true
			q.clearActiveLocked()
		default:
			q.mu.Unlock()
			return nil, false
		}
	}
	q.mu.Unlock()

	// the timeout handler may enqueue or clear
	if callTimeout {
		q.hooks.Timeout()
	}

	q.mu.Lock()
	if q.active != nil {
		q.mu.Unlock()
		return nil, false
	}

	now := q.clock.Now()
	dropped := 0
	var next *request
	for len(q.backlog) > 0 {
		r := q.backlog[0]
		q.backlog[0] = nil
		q.backlog = q.backlog[1:]

		if !r.longTermExpired(now, q.longTerm) {
			next = r
			break
		}
		r.state = RequestExpired
		dropped++
	}
	if len(q.backlog) == 0 {
		q.backlog = nil
	}
	if next != nil {
		q.activate(next)
	}
	length := len(q.backlog)
	q.mu.Unlock()

	q.metrics.SetQueueLength(length)
	if dropped > 0 {
		q.metrics.AddExpired(dropped)
		q.logger.Debug("dropped long term queued requests", "count", dropped)
	}

	return next, next != nil
}

// Clear drops the active request and the whole backlog.
func (q *RequestQueue) Clear() {
	q.mu.Lock()
	hadActive := q.active != nil
	q.clearActiveLocked()
	count := len(q.backlog)
	q.backlog = nil
	q.mu.Unlock()

	q.metrics.SetQueueLength(0)
	q.logger.Debug("cleared queue", "active_request", hadActive, "queue_count", count)
}

// Length reports how many requests wait behind the active one.
func (q *RequestQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// HasActive reports whether a request is awaiting its response.
func (q *RequestQueue) HasActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active != nil
}

// activate starts the request's timeout clock. Caller holds q.mu.
func (q *RequestQueue) activate(r *request) {
	r.state = RequestActive
	r.startedAt = q.clock.Now()
	q.active = r

	if !r.blind() {
		// expiry is strictly after the timeout, so check just past it
		r.stopTimer = q.clock.AfterFunc(r.timeout+time.Millisecond, func() {
			q.hooks.Schedule(q.ProcessQueue)
		})
	}
}

// Caller holds q.mu.
func (q *RequestQueue) clearActiveLocked() {
	if q.active == nil {
		return
	}
	if q.active.stopTimer != nil {
		q.active.stopTimer()
	}
	q.active = nil
}
