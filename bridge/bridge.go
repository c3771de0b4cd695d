package bridge

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/manager"
	"github.com/c360/devlink/metric"
)

// Subject suffixes under <prefix>.<connection>
const (
	SubjectReceived = "rx"
	SubjectStderr   = "stderr"
	SubjectEvents   = "events"
	SubjectSend     = "tx"
	SubjectRequest  = "req"
)

// SubjectStatus is appended to the prefix for connection status requests
const SubjectStatus = "status"

// ErrUnknownConnection is returned for commands addressed to a name the
// bridge does not serve.
var ErrUnknownConnection = stderrors.New("unknown connection")

// ErrNoResponse is returned when a forwarded request got no frame in time.
var ErrNoResponse = stderrors.New("no response before timeout")

// Client is the part of natsclient.Client the bridge uses
type Client interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
	SubscribeRequest(ctx context.Context, subject string, handler func(context.Context, []byte) ([]byte, error)) error
}

// Connections is the part of manager.Manager the bridge uses
type Connections interface {
	Names() []string
	Get(name string) (*engine.Connection, bool)
	Statuses() []engine.Status
	Subscribe(manager.Listener) func()
}

// Config holds bridge settings
type Config struct {
	Prefix string
	// RequestTimeout overrides the connection's request timeout for
	// forwarded requests when positive.
	RequestTimeout time.Duration
}

// Bridge publishes connection traffic to NATS and forwards NATS commands
// into connections. Frames are passed through uninterpreted.
type Bridge struct {
	client  Client
	conns   Connections
	cfg     Config
	metrics *metric.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stop    func()
	running bool
}

// Option configures a Bridge
type Option func(*Bridge)

// WithMetrics records publications and commands in the registry's core
// metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(b *Bridge) {
		if registry != nil {
			b.metrics = registry.CoreMetrics()
		}
	}
}

// WithLogger sets the bridge logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New returns an idle bridge. Start subscribes it.
func New(client Client, conns Connections, cfg Config, opts ...Option) (*Bridge, error) {
	if client == nil || conns == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "New", "client and connections check")
	}
	if cfg.Prefix == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "New", "prefix check")
	}

	b := &Bridge{
		client: client,
		conns:  conns,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bridge", "prefix", cfg.Prefix)
	return b, nil
}

// Subject returns <prefix>.<connection>.<suffix>
func (b *Bridge) Subject(connection, suffix string) string {
	return b.cfg.Prefix + "." + connection + "." + suffix
}

// Start subscribes the command subjects of every connection and begins
// publishing events.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Start", "start twice")
	}

	bctx, cancel := context.WithCancel(ctx)

	for _, name := range b.conns.Names() {
		name := name
		if err := b.client.Subscribe(bctx, b.Subject(name, SubjectSend), func(_ context.Context, data []byte) {
			b.handleSend(name, data)
		}); err != nil {
			cancel()
			return errors.WrapTransient(err, "Bridge", "Start", "subscribe "+b.Subject(name, SubjectSend))
		}

		if err := b.client.SubscribeRequest(bctx, b.Subject(name, SubjectRequest), func(ctx context.Context, data []byte) ([]byte, error) {
			return b.handleRequest(ctx, name, data)
		}); err != nil {
			cancel()
			return errors.WrapTransient(err, "Bridge", "Start", "subscribe "+b.Subject(name, SubjectRequest))
		}
	}

	statusSubject := b.cfg.Prefix + "." + SubjectStatus
	if err := b.client.SubscribeRequest(bctx, statusSubject, b.handleStatus); err != nil {
		cancel()
		return errors.WrapTransient(err, "Bridge", "Start", "subscribe "+statusSubject)
	}

	b.ctx = bctx
	b.cancel = cancel
	b.stop = b.conns.Subscribe(b.publish)
	b.running = true

	b.logger.Info("bridge started", "connections", len(b.conns.Names()))
	return nil
}

// Stop stops publishing and ends the command subscriptions.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false
	b.stop()
	b.cancel()
	b.logger.Info("bridge stopped")
}

func (b *Bridge) publish(e manager.Event) {
	var (
		suffix  string
		payload []byte
	)

	switch e.Type {
	case manager.EventReceived:
		suffix, payload = SubjectReceived, []byte(e.Data)
	case manager.EventStderr:
		suffix, payload = SubjectStderr, []byte(e.Data)
	default:
		data, err := json.Marshal(e)
		if err != nil {
			b.logger.Warn("event encoding failed", "connection", e.Connection, "error", err)
			return
		}
		suffix, payload = SubjectEvents, data
	}

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	subject := b.Subject(e.Connection, suffix)
	if err := b.client.Publish(ctx, subject, payload); err != nil {
		b.logger.Debug("publish failed", "subject", subject, "error", err)
		if b.metrics != nil {
			b.metrics.RecordError("bridge", errors.Classify(err).String())
		}
		return
	}
	if b.metrics != nil {
		b.metrics.RecordFramePublished(e.Connection, suffix)
	}
}

func (b *Bridge) handleSend(name string, data []byte) {
	conn, ok := b.conns.Get(name)
	if !ok || len(data) == 0 {
		return
	}
	conn.Send(string(data))
	if b.metrics != nil {
		b.metrics.RecordCommand(name, "send")
	}
}

// handleRequest forwards data as a paired request and replies with the
// response frame. An empty body waits for the next frame without sending.
func (b *Bridge) handleRequest(ctx context.Context, name string, data []byte) ([]byte, error) {
	conn, ok := b.conns.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, name)
	}

	var (
		frame    string
		answered bool
		op       = "request"
	)
	if len(data) == 0 {
		op = "receive"
		frame, answered = conn.WaitAndReceive(ctx, b.cfg.RequestTimeout)
	} else {
		frame, answered = conn.RequestWaitAndReceive(ctx, string(data), b.cfg.RequestTimeout)
	}
	if b.metrics != nil {
		b.metrics.RecordCommand(name, op)
	}

	if !answered {
		return nil, ErrNoResponse
	}
	return []byte(frame), nil
}

func (b *Bridge) handleStatus(context.Context, []byte) ([]byte, error) {
	return json.Marshal(b.conns.Statuses())
}
