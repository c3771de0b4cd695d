package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/pkg/retry"
)

// State is the supervisor state of a Connection.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateConnected
	StateBackingOff
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateBackingOff:
		return "backing_off"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Deps are the collaborators injected into a Connection. Only Transport is
// required.
type Deps struct {
	Transport Transport
	Pool      Executor
	Clock     Clock
	Metrics   Metrics
	Logger    *slog.Logger
}

// Status is a point-in-time snapshot of a Connection.
type Status struct {
	Name         string        `json:"name"`
	ID           string        `json:"id"`
	Kind         string        `json:"kind"`
	Identity     string        `json:"identity"`
	State        State         `json:"-"`
	StateName    string        `json:"state"`
	Backoff      time.Duration `json:"backoff"`
	QueueLength  int           `json:"queue_length"`
	Connects     uint64        `json:"connects"`
	Disconnects  uint64        `json:"disconnects"`
	Errors       uint64        `json:"errors"`
	Timeouts     uint64        `json:"timeouts"`
	LastError    string        `json:"last_error,omitempty"`
	LastActivity time.Time     `json:"last_activity"`
}

type outbound struct {
	data    string
	dest    string
	context string
}

// Connection supervises one Transport: it connects after a staggered start,
// decodes frames until the session fails, and reconnects with backoff until
// closed.
type Connection struct {
	name      string
	id        string
	kind      Kind
	tag       string
	transport Transport
	handlers  Handlers

	pool     Executor
	clock    Clock
	metrics  Metrics
	logger   *slog.Logger
	dispatch *Dispatcher
	queue    *RequestQueue
	limiter  *rate.Limiter
	policy   retry.Backoff

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu                sync.Mutex
	opts              Options
	state             State
	session           Transport
	started           bool
	running           bool
	closed            bool
	dropped           bool
	stopStart         func() bool
	backoff           time.Duration
	recentlyConnected bool
	lastActivity      time.Time
	lastErr           error

	outMu    sync.Mutex
	outbox   []outbound
	draining bool

	connects    atomic.Uint64
	disconnects atomic.Uint64
	errorCount  atomic.Uint64
	timeouts    atomic.Uint64
}

// NewConnection builds an idle connection. Call Start to begin connecting.
func NewConnection(name string, opts Options, deps Deps) (*Connection, error) {
	if deps.Transport == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Connection", "NewConnection", "transport check")
	}
	if deps.Pool == nil {
		deps.Pool = goExecutor{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}

	kind := deps.Transport.Kind()
	id := uuid.NewString()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "connection")
	}
	logger = logger.With("connection", name, "kind", kind.String(), "id", id)

	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	c := &Connection{
		name:      name,
		id:        id,
		kind:      kind,
		tag:       kind.String(),
		transport: deps.Transport,
		handlers:  opts.Handlers,
		pool:      deps.Pool,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		logger:    logger,
		policy:    kind.backoff(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		opts:      opts,
		state:     StateStopped,
	}
	c.backoff = c.policy.Initial()
	c.lastActivity = c.clock.Now()
	c.dispatch = NewDispatcher(opts.ThreadState, opts.CallbackError, logger)

	if opts.SendRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.SendRate), opts.SendBurst)
	}

	c.queue = NewRequestQueue(c.clock, opts.LongTermTimeout, QueueHooks{
		Write: c.queueWrite,
		Respond: func(handler func(string), frame string) {
			c.dispatch.Call(c.tag, func() { handler(frame) })
		},
		Received: func(frame string) {
			if h := c.handlers.Received; h != nil {
				c.dispatch.Call(c.tag, func() { h(frame) })
			}
		},
		Timeout: func() { c.fireTimeout("timer") },
		Schedule: func(task func()) {
			c.submit("timer", task)
		},
	}, c.metrics, logger)

	return c, nil
}

// Name returns the configured connection name.
func (c *Connection) Name() string { return c.name }

// ID returns the instance identifier assigned at construction.
func (c *Connection) ID() string { return c.id }

// Kind returns the transport kind.
func (c *Connection) Kind() Kind { return c.kind }

// Identity describes the remote end, such as a destination or command line.
func (c *Connection) Identity() string { return c.transport.Identity() }

// Start schedules the first connect after a random kickoff delay. Calling
// it again, or after Close, does nothing.
func (c *Connection) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.started {
		return
	}
	c.started = true
	c.state = StateStarting
	c.lastActivity = c.clock.Now()

	delay := retry.Kickoff()
	c.stopStart = c.clock.AfterFunc(delay, c.launch)
	c.logger.Debug("connection scheduled", "delay", delay)
}

func (c *Connection) launch() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.run()
}

// Stop is an alias of Close.
func (c *Connection) Stop() error {
	return c.Close()
}

// Close permanently shuts the connection down. Pending timers are cancelled,
// the transport is closed and queued requests are dropped. It is safe to
// call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateShuttingDown
	c.session = nil
	if c.stopStart != nil {
		c.stopStart()
	}
	running := c.running
	c.mu.Unlock()

	c.cancel()
	if err := c.transport.Close(); err != nil {
		c.logger.Debug("transport close failed", "error", err)
	}
	c.queue.Clear()

	if !running {
		close(c.done)
	}

	c.logger.Info("connection closed")
	return nil
}

// Done is closed once the supervisor loop has exited after Close.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Drop closes the live session without shutting down. The supervisor
// reconnects after the minimum gap.
func (c *Connection) Drop() {
	c.mu.Lock()
	session := c.session
	if session != nil {
		c.dropped = true
	}
	c.mu.Unlock()

	if session != nil {
		c.logger.Debug("dropping session")
		_ = session.Close()
	}
}

func (c *Connection) run() {
	defer close(c.done)

	for {
		if c.ctx.Err() != nil {
			return
		}

		err := c.runSession()
		if c.ctx.Err() != nil {
			return
		}

		wait := c.afterSession(err)
		if !c.sleep(wait) {
			return
		}
	}
}

func (c *Connection) runSession() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.ErrClosed
	}
	c.state = StateStarting
	connectTimeout := c.opts.ConnectTimeout
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, connectTimeout)
	err := c.transport.Connect(ctx)
	cancel()
	if err != nil {
		_ = c.transport.Close()
		return err
	}

	if !c.connected() {
		_ = c.transport.Close()
		return errors.ErrClosed
	}
	defer c.endSession()

	return c.readLoop()
}

// connected publishes the new session. It fails only when Close won the race.
func (c *Connection) connected() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.session = c.transport
	c.state = StateConnected
	c.recentlyConnected = true
	c.dropped = false
	c.backoff = c.policy.Initial()
	c.lastActivity = c.clock.Now()
	opts := c.opts
	c.mu.Unlock()

	c.connects.Add(1)
	c.metrics.IncrConnects()

	echo := false
	if e, ok := c.transport.(EchoingTransport); ok {
		echo = e.EchoesInput()
	}
	c.queue.SetEchoSuppression(echo)

	c.logger.Info("connected", "identity", c.transport.Identity())
	c.call(c.handlers.Connected)
	if c.kind == KindUDP {
		c.call(c.handlers.Ready)
	}

	if s, ok := c.transport.(StderrSource); ok {
		if r := s.Stderr(); r != nil {
			// session-long read loop, kept off the pool
			go c.drainStderr(r, opts)
		}
	}
	return true
}

func (c *Connection) endSession() {
	c.mu.Lock()
	c.session = nil
	closed := c.closed
	if !closed {
		c.state = StateBackingOff
	}
	c.mu.Unlock()

	_ = c.transport.Close()

	if closed {
		return
	}

	if er, ok := c.transport.(ExitReporter); ok {
		if code, exited := er.ExitCode(); exited {
			c.logger.Info("process exited", "code", code)
			if h := c.handlers.Exited; h != nil {
				c.dispatch.Call(c.tag, func() { h(code) })
			}
		}
	}

	c.disconnects.Add(1)
	c.metrics.IncrDisconnects()
	c.logger.Info("disconnected")
	c.call(c.handlers.Disconnected)
}

// afterSession reports the failure and returns the wait before the next
// attempt.
func (c *Connection) afterSession(err error) time.Duration {
	c.mu.Lock()
	dropped := c.dropped
	c.dropped = false
	c.mu.Unlock()

	if err != nil && !stderrors.Is(err, io.EOF) && !dropped {
		c.reportError(err)
	}

	now := c.clock.Now()
	fireTimeout := false

	c.mu.Lock()
	c.backoff = c.policy.Next(c.backoff, c.recentlyConnected)
	c.recentlyConnected = false
	wait := c.backoff
	if err != nil && now.Sub(c.lastActivity) > c.opts.Timeout {
		c.lastActivity = now
		fireTimeout = true
	}
	if !c.closed {
		c.state = StateBackingOff
	}
	c.mu.Unlock()

	if fireTimeout {
		c.logger.Debug("no activity within timeout")
		c.fireTimeout(c.tag)
	}

	c.logger.Debug("reconnecting after backoff", "backoff", wait)
	return wait
}

// sleep waits d on the connection clock. It returns false when Close
// interrupted the wait.
func (c *Connection) sleep(d time.Duration) bool {
	wake := make(chan struct{})
	stop := c.clock.AfterFunc(d, func() { close(wake) })

	select {
	case <-wake:
		return true
	case <-c.ctx.Done():
		stop()
		return false
	}
}

func (c *Connection) readLoop() error {
	c.mu.Lock()
	cfg := c.opts.decoderConfig(c.kind)
	timeout := c.opts.Timeout
	c.mu.Unlock()

	if c.kind == KindUDP {
		if pt, ok := c.transport.(PacketTransport); ok {
			return c.readPackets(pt)
		}
	}

	if !c.kind.overflowFatal() {
		cfg.OnOverflow = func(err error) {
			c.logger.Warn("discarding oversized frame", "error", err)
			c.reportError(err)
		}
	}

	r := &sessionReader{c: c, t: c.transport, timeout: timeout}
	err := NewFrameDecoder(cfg).Decode(r, c.handleFrame)
	if errors.IsFatal(err) {
		c.logger.Warn("framing fault, dropping session", "error", err)
	}
	return err
}

func (c *Connection) readPackets(pt PacketTransport) error {
	buf := make([]byte, MaxDatagramSize)
	for {
		n, from, err := pt.ReadFrom(buf)
		if n > 0 {
			c.received(n)
			frame := DecodeDatagram(buf[:n])
			if h := c.handlers.ReceivedFrom; h != nil {
				c.dispatch.Call(c.tag, func() { h(from, frame) })
			}
			c.handleFrame(frame)
		}
		if err != nil {
			return err
		}
	}
}

func (c *Connection) handleFrame(frame string) {
	c.metrics.IncrFramesReceived()
	c.queue.HandleReceivedData(frame)
}

func (c *Connection) received(n int) {
	c.metrics.AddBytesReceived(n)
	c.touch()
}

func (c *Connection) touch() {
	now := c.clock.Now()
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

func (c *Connection) drainStderr(r io.Reader, opts Options) {
	defer func() {
		if v := recover(); v != nil {
			c.dispatch.Report("stderr", errors.FromPanic("stderr", v))
		}
	}()

	cfg := DecoderConfig{
		Mode:           ModeDelimited,
		Delimiters:     opts.ReceiveDelimiters,
		MaxSegmentSize: c.kind.maxSegmentSize(),
		OnOverflow: func(err error) {
			c.logger.Warn("discarding oversized stderr frame", "error", err)
			c.reportError(err)
		},
	}
	if opts.MaxSegmentSize > 0 {
		cfg.MaxSegmentSize = opts.MaxSegmentSize
	}
	if cfg.Delimiters == "" {
		cfg.Mode = ModeRaw
	}

	err := NewFrameDecoder(cfg).Decode(r, func(frame string) {
		if h := c.handlers.Stderr; h != nil {
			c.dispatch.Call(c.tag, func() { h(frame) })
		}
	})
	if err != nil && c.ctx.Err() == nil {
		c.logger.Debug("stderr reader ended", "error", err)
	}
}

// sessionReader counts inbound bytes and applies the read deadline.
type sessionReader struct {
	c       *Connection
	t       Transport
	timeout time.Duration
}

func (r *sessionReader) Read(p []byte) (int, error) {
	if d, ok := r.t.(readDeadliner); ok && r.timeout > 0 {
		// socket deadlines are wall clock
		_ = d.SetReadDeadline(time.Now().Add(r.timeout))
	}
	n, err := r.t.Read(p)
	if n > 0 {
		r.c.received(n)
	}
	return n, err
}

// Send queues data as a fire-and-forget request.
func (c *Connection) Send(data string) {
	c.enqueue(data, true, 0, nil)
}

// Request queues data and hands the next frame received while it is active
// to handler. A timeout of zero uses the configured request timeout.
func (c *Connection) Request(data string, timeout time.Duration, handler func(frame string)) {
	c.enqueue(data, true, c.requestTimeout(timeout), handler)
}

// Receive waits for the next frame without sending anything.
func (c *Connection) Receive(timeout time.Duration, handler func(frame string)) {
	c.enqueue("", false, c.requestTimeout(timeout), handler)
}

// RequestWaitAndReceive sends data and blocks until the paired response
// arrives, the timeout elapses or ctx is done. ok is false unless a response
// arrived.
func (c *Connection) RequestWaitAndReceive(ctx context.Context, data string, timeout time.Duration) (string, bool) {
	if data == "" {
		return "", false
	}
	return c.waitFor(ctx, data, true, c.requestTimeout(timeout))
}

// WaitAndReceive blocks until the next frame arrives, the timeout elapses or
// ctx is done.
func (c *Connection) WaitAndReceive(ctx context.Context, timeout time.Duration) (string, bool) {
	return c.waitFor(ctx, "", false, c.requestTimeout(timeout))
}

func (c *Connection) waitFor(ctx context.Context, data string, hasData bool, timeout time.Duration) (string, bool) {
	if c.isClosed() {
		return "", false
	}

	response := make(chan string, 1)
	c.queue.Enqueue(data, hasData, timeout, func(frame string) {
		select {
		case response <- frame:
		default:
		}
	})

	expired := make(chan struct{})
	stop := c.clock.AfterFunc(timeout, func() { close(expired) })
	defer stop()

	select {
	case frame := <-response:
		return frame, true
	case <-expired:
	case <-ctx.Done():
	case <-c.ctx.Done():
	}
	return "", false
}

func (c *Connection) enqueue(data string, hasData bool, timeout time.Duration, handler func(string)) {
	if c.isClosed() {
		return
	}
	if hasData && data == "" {
		return
	}
	c.queue.Enqueue(data, hasData, timeout, handler)
}

// SendNow writes data immediately, bypassing the request queue.
func (c *Connection) SendNow(data string) {
	if c.isClosed() || data == "" {
		return
	}
	c.post(outbound{data: data, context: c.tag}, false)
}

// SendTo writes data to a one-off destination on datagram transports.
func (c *Connection) SendTo(dest, data string) error {
	if c.isClosed() {
		return errors.ErrClosed
	}
	if _, ok := c.transport.(PacketTransport); !ok {
		return errors.WrapInvalid(errors.ErrUnsupportedTarget, "Connection", "SendTo", "destination check")
	}
	if data == "" {
		return nil
	}
	c.post(outbound{data: data, dest: dest, context: "pool"}, true)
	return nil
}

func (c *Connection) queueWrite(data string, onPool bool) {
	context := c.tag
	if onPool {
		context = "pool"
	}
	c.post(outbound{data: data, context: context}, onPool)
}

// post appends to the outbox. Only one drainer runs at a time so writes
// leave in the order they were posted.
func (c *Connection) post(o outbound, onPool bool) {
	c.outMu.Lock()
	c.outbox = append(c.outbox, o)
	if c.draining {
		c.outMu.Unlock()
		return
	}
	c.draining = true
	c.outMu.Unlock()

	if onPool {
		c.submit("pool", c.drain)
		return
	}
	c.drain()
}

func (c *Connection) drain() {
	for {
		c.outMu.Lock()
		if len(c.outbox) == 0 {
			c.outbox = nil
			c.draining = false
			c.outMu.Unlock()
			return
		}
		o := c.outbox[0]
		c.outbox[0] = outbound{}
		c.outbox = c.outbox[1:]
		c.outMu.Unlock()

		c.write(o)
	}
}

func (c *Connection) write(o outbound) {
	c.mu.Lock()
	session := c.session
	delimiters := c.opts.SendDelimiters
	binary := c.opts.binary()
	c.mu.Unlock()

	if session == nil {
		c.logger.Debug("not connected, dropping write", "data", o.data)
		return
	}

	payload := c.prepare(o.data, delimiters, binary)
	if len(payload) == 0 {
		return
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}
	}

	var (
		n   int
		err error
	)
	if o.dest != "" {
		pt, ok := session.(PacketTransport)
		if !ok {
			c.reportError(errors.ErrUnsupportedTarget)
			return
		}
		n, err = pt.WriteTo(payload, o.dest)
	} else {
		n, err = session.Write(payload)
	}
	if err != nil {
		// the read loop notices the broken session
		c.logger.Debug("write failed", "error", err)
		c.errorCount.Add(1)
		c.metrics.IncrErrors()
		return
	}

	c.metrics.AddBytesSent(n)
	c.metrics.IncrFramesSent()
	c.touch()

	if h := c.handlers.Sent; h != nil {
		c.dispatch.Call(o.context, func() { h(o.data) })
	}
}

func (c *Connection) prepare(data, delimiters string, binary bool) []byte {
	switch {
	case data == "":
		return nil
	case binary:
		return []byte(data)
	case c.kind == KindUDP:
		return EncodeDatagram(data)
	case delimiters == "" || strings.IndexByte(delimiters, data[len(data)-1]) >= 0:
		return []byte(data)
	default:
		return append([]byte(data), delimiters...)
	}
}

// submit runs task on the pool, or on a fresh goroutine when the pool
// refuses it.
func (c *Connection) submit(context string, task func()) {
	wrapped := func() {
		defer func() {
			if r := recover(); r != nil {
				c.dispatch.Report(context, errors.FromPanic(context, r))
			}
		}()
		task()
	}

	if err := c.pool.Submit(wrapped); err != nil {
		c.logger.Warn("pool rejected task, running it directly", "context", context, "error", err)
		go wrapped()
	}
}

func (c *Connection) call(fn func()) {
	if fn != nil {
		c.dispatch.Call(c.tag, fn)
	}
}

func (c *Connection) fireTimeout(context string) {
	c.timeouts.Add(1)
	c.metrics.IncrTimeouts()
	if h := c.handlers.Timeout; h != nil {
		c.dispatch.Call(context, h)
	}
}

func (c *Connection) reportError(err error) {
	c.errorCount.Add(1)
	c.metrics.IncrErrors()

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	c.logger.Debug("connection error", "error", err)
	if h := c.handlers.Error; h != nil {
		c.dispatch.Call(c.tag, func() { h(err) })
	}
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) requestTimeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.RequestTimeout
}

// SetRequestTimeout changes the default timeout for later requests.
func (c *Connection) SetRequestTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultRequestTimeout
	}
	c.mu.Lock()
	c.opts.RequestTimeout = d
	c.mu.Unlock()
}

// SetTimeout changes the read deadline and idle window from the next
// session on.
func (c *Connection) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultIdleTimeout
	}
	c.mu.Lock()
	c.opts.Timeout = d
	c.mu.Unlock()
}

// SetSendDelimiters changes the delimiters appended to later sends.
func (c *Connection) SetSendDelimiters(delimiters string) {
	c.mu.Lock()
	c.opts.SendDelimiters = delimiters
	c.mu.Unlock()
}

// SetReceiveDelimiters changes frame splitting from the next session on.
func (c *Connection) SetReceiveDelimiters(delimiters string) {
	c.mu.Lock()
	c.opts.ReceiveDelimiters = delimiters
	c.mu.Unlock()
}

// SetDest changes the remote address used by the next session.
func (c *Connection) SetDest(dest string) error {
	ds, ok := c.transport.(DestinationSetter)
	if !ok {
		return errors.WrapInvalid(errors.ErrUnsupportedTarget, "Connection", "SetDest",
			fmt.Sprintf("set destination on %s transport", c.kind))
	}
	ds.SetDest(dest)
	return nil
}

// QueueLength returns the number of requests waiting behind the active one.
func (c *Connection) QueueLength() int {
	return c.queue.Length()
}

// ClearQueue drops the active request and the backlog.
func (c *Connection) ClearQueue() {
	c.queue.Clear()
}

// State returns the current supervisor state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether a session is live.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Status returns a snapshot for health reporting.
func (c *Connection) Status() Status {
	c.mu.Lock()
	st := Status{
		Name:         c.name,
		ID:           c.id,
		Kind:         c.tag,
		State:        c.state,
		StateName:    c.state.String(),
		Backoff:      c.backoff,
		LastActivity: c.lastActivity,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	st.Identity = c.transport.Identity()
	st.QueueLength = c.queue.Length()
	st.Connects = c.connects.Load()
	st.Disconnects = c.disconnects.Load()
	st.Errors = c.errorCount.Load()
	st.Timeouts = c.timeouts.Load()
	return st
}
