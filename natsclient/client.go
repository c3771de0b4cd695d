package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/metric"
)

// State is the connection state of a Client
type State int32

// Client states
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateCircuitOpen
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned by messaging calls before Connect succeeds
	ErrNotConnected = errors.ErrNotConnected
	// ErrCircuitOpen is returned by Connect while the breaker refuses attempts
	ErrCircuitOpen = errors.ErrCircuitOpen
)

// Client is the NATS connection used by the bridge
type Client struct {
	url    string
	logger *slog.Logger
	state  atomic.Int32

	breaker        *breaker
	threshold      int
	maxBackoff     time.Duration
	handlerTimeout time.Duration

	name          string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	auth          []nats.Option
	tls           []nats.Option

	metrics *metric.Metrics

	onDisconnect   func(error)
	onReconnect    func()
	onHealthChange func(bool)

	healthInterval time.Duration
	watchStop      chan struct{}
	watchDone      chan struct{}

	mu     sync.RWMutex
	conn   *nats.Conn
	subs   []*nats.Subscription
	closed chan struct{}
	once   sync.Once

	closeMu  sync.Mutex
	shutdown bool
}

// NewClient returns an unconnected client for url. url may list several
// servers separated by commas.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:            url,
		logger:         slog.Default(),
		threshold:      5,
		maxBackoff:     time.Minute,
		handlerTimeout: 30 * time.Second,
		maxReconnects:  -1,
		reconnectWait:  2 * time.Second,
		timeout:        5 * time.Second,
		drainTimeout:   30 * time.Second,
		healthInterval: 10 * time.Second,
		closed:         make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient")
	c.breaker = newBreaker(c.threshold, time.Second, c.maxBackoff)
	return c, nil
}

// URL returns the server list the client dials
func (c *Client) URL() string {
	return c.url
}

// State returns the connection state. An open breaker wins over the last
// recorded state.
func (c *Client) State() State {
	if c.breaker.open() {
		return StateCircuitOpen
	}
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// IsHealthy reports whether the client is connected
func (c *Client) IsHealthy() bool {
	return c.State() == StateConnected
}

// Breaker returns a snapshot of the connect circuit breaker
func (c *Client) Breaker() BreakerState {
	return c.breaker.snapshot()
}

// WaitForConnection blocks until the client is connected or ctx ends
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for !c.IsHealthy() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (c *Client) natsOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.name != "" {
		opts = append(opts, nats.Name(c.name))
	}
	opts = append(opts, c.auth...)
	return append(opts, c.tls...)
}

// Connect dials the servers once. A failure counts toward the breaker; the
// failure that opens it is reported as ErrCircuitOpen.
func (c *Client) Connect(ctx context.Context) error {
	if !c.breaker.allow() {
		return ErrCircuitOpen
	}
	if c.IsHealthy() {
		return nil
	}

	c.setState(StateConnecting)
	c.logger.Info("connecting to NATS", "url", c.url)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.natsOptions()...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return c.connectFailed(errors.WrapTransient(r.err, "Client", "Connect", "dial "+c.url))
		}
		c.mu.Lock()
		c.conn = r.conn
		c.mu.Unlock()
	case <-ctx.Done():
		// a dial that completes after cancellation is discarded
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return c.connectFailed(errors.WrapTransient(ctx.Err(), "Client", "Connect", "dial cancelled"))
	}

	c.breaker.success()
	c.setState(StateConnected)
	c.recordConnected(true)
	c.logger.Info("connected to NATS", "url", c.url)

	if c.healthInterval > 0 {
		c.startWatch()
	}
	if c.onHealthChange != nil {
		c.onHealthChange(true)
	}
	return nil
}

func (c *Client) connectFailed(err error) error {
	c.setState(StateDisconnected)
	if c.breaker.failure() {
		st := c.breaker.snapshot()
		c.logger.Warn("NATS circuit breaker opened", "failures", st.Failures, "retry_at", st.RetryAt)
		return ErrCircuitOpen
	}
	return err
}

// Close unsubscribes, drains the connection and waits for it to close,
// bounded by ctx and the drain timeout. Credentials are forgotten.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.shutdown {
		return nil
	}
	c.shutdown = true
	c.stopWatch()

	c.mu.Lock()
	conn, subs := c.conn, c.subs
	c.conn, c.subs = nil, nil
	c.auth, c.tls = nil, nil
	c.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if !sub.IsValid() {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe "+sub.Subject))
		}
	}

	if conn != nil && !conn.IsClosed() {
		if err := conn.Drain(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "drain"))
			conn.Close()
		}

		timer := time.NewTimer(c.drainTimeout)
		defer timer.Stop()
		select {
		case <-c.closed:
		case <-timer.C:
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain did not finish in %v", c.drainTimeout), "Client", "Close", "drain"))
			conn.Close()
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain"))
			conn.Close()
		}
	}

	c.setState(StateDisconnected)
	return stderrors.Join(errs...)
}

// RTT measures the round trip to the connected server
func (c *Client) RTT() (time.Duration, error) {
	conn := c.connection()
	if conn == nil {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// connection returns the live connection or nil
func (c *Client) connection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || !c.conn.IsConnected() {
		return nil
	}
	return c.conn
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setState(StateReconnecting)
	c.recordConnected(false)
	if err != nil {
		c.logger.Warn("NATS connection lost", "error", err)
	}
	if c.onDisconnect != nil {
		go c.onDisconnect(err)
	}
	if c.onHealthChange != nil {
		go c.onHealthChange(false)
	}
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.setState(StateConnected)
	c.breaker.success()
	c.recordConnected(true)
	if c.metrics != nil {
		c.metrics.RecordNATSReconnect()
	}
	c.logger.Info("NATS connection restored")
	if c.onReconnect != nil {
		go c.onReconnect()
	}
	if c.onHealthChange != nil {
		go c.onHealthChange(true)
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setState(StateDisconnected)
	c.recordConnected(false)
	c.once.Do(func() { close(c.closed) })
	if c.onHealthChange != nil {
		go c.onHealthChange(false)
	}
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("NATS subscription error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("NATS error", "error", err)
}

func (c *Client) recordConnected(connected bool) {
	if c.metrics != nil {
		c.metrics.RecordNATSStatus(connected)
	}
}
