package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/devlink/config"
	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/health"
	"github.com/c360/devlink/metric"
	"github.com/c360/devlink/pkg/worker"
)

// SystemName is the component name of the aggregated health status
const SystemName = "devlink"

const poolStopTimeout = 5 * time.Second

// Deps are the collaborators shared by every managed connection. All are
// optional.
type Deps struct {
	Builder  TransportBuilder
	Clock    engine.Clock
	Registry *metric.MetricsRegistry
	Monitor  *health.Monitor
	Logger   *slog.Logger
}

// Manager owns the named connections built from configuration together
// with the worker pool, clock and metrics they share.
type Manager struct {
	logger  *slog.Logger
	pool    *worker.Pool[func()]
	hub     *hub
	monitor *health.Monitor
	core    *metric.Metrics

	names []string
	conns map[string]*engine.Connection

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

// New builds one idle connection per enabled entry of cfg. Nothing connects
// until StartAll.
func New(cfg *config.Config, deps Deps) (*Manager, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "New", "config check")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Manager", "New", "validate config")
	}

	if deps.Builder == nil {
		deps.Builder = BuildTransport
	}
	if deps.Clock == nil {
		deps.Clock = engine.SystemClock()
	}
	if deps.Monitor == nil {
		deps.Monitor = health.NewMonitor()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	poolOpts := []worker.Option[func()]{worker.WithLogger[func()](logger.With("component", "worker-pool"))}
	var connMetrics *metric.ConnectionMetrics
	if deps.Registry != nil {
		var err error
		connMetrics, err = metric.NewConnectionMetrics(deps.Registry)
		if err != nil {
			return nil, errors.WrapFatal(err, "Manager", "New", "register connection metrics")
		}
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[func()](deps.Registry, "devlink_pool"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:  logger.With("component", "manager"),
		pool:    worker.NewTaskPool(cfg.Workers.Workers, cfg.Workers.QueueSize, poolOpts...),
		hub:     newHub(),
		monitor: deps.Monitor,
		conns:   make(map[string]*engine.Connection),
		ctx:     ctx,
		cancel:  cancel,
	}
	if deps.Registry != nil {
		m.core = deps.Registry.CoreMetrics()
	}

	for _, name := range cfg.EnabledConnections() {
		cc := cfg.Connections[name]

		tr, err := deps.Builder(name, cc)
		if err != nil {
			cancel()
			return nil, err
		}

		opts := cc.Options()
		opts.Handlers = m.handlers(name, tr)
		opts.CallbackError = m.callbackError(name)

		var recorder engine.Metrics
		if connMetrics != nil {
			recorder = connMetrics.For(name)
		}

		conn, err := engine.NewConnection(name, opts, engine.Deps{
			Transport: tr,
			Pool:      m.pool,
			Clock:     deps.Clock,
			Metrics:   recorder,
			Logger:    logger.With("component", "connection"),
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("connection %s: %w", name, err)
		}

		m.names = append(m.names, name)
		m.conns[name] = conn
	}

	if m.core != nil {
		m.core.ConnectionsConfigured.Set(float64(len(m.names)))
	}
	return m, nil
}

func (m *Manager) handlers(name string, tr engine.Transport) engine.Handlers {
	emit := func(t EventType, data string) {
		m.hub.publish(Event{Connection: name, Type: t, Data: data, Time: time.Now()})
	}

	h := engine.Handlers{
		Connected:    func() { emit(EventConnected, "") },
		Disconnected: func() { emit(EventDisconnected, "") },
		Sent:         func(data string) { emit(EventSent, data) },
		Timeout:      func() { emit(EventTimeout, "") },
		Stderr:       func(frame string) { emit(EventStderr, frame) },
		Ready:        func() { emit(EventReady, "") },
		Error: func(err error) {
			if m.core != nil {
				m.core.RecordError(name, errors.Classify(err).String())
			}
			emit(EventError, err.Error())
		},
		Exited: func(code int) {
			m.hub.publish(Event{Connection: name, Type: EventExited, ExitCode: &code, Time: time.Now()})
		},
	}

	// Datagram frames also reach Received; publish them once, with the sender.
	if _, packets := tr.(engine.PacketTransport); packets && tr.Kind() == engine.KindUDP {
		h.ReceivedFrom = func(from, frame string) {
			m.hub.publish(Event{Connection: name, Type: EventReceived, Data: frame, From: from, Time: time.Now()})
		}
	} else {
		h.Received = func(frame string) { emit(EventReceived, frame) }
	}
	return h
}

func (m *Manager) callbackError(name string) func(string, error) {
	return func(context string, err error) {
		m.logger.Warn("handler failed", "connection", name, "context", context, "error", err)
		if m.core != nil {
			m.core.RecordError(name, "callback")
		}
	}
}

// Subscribe registers l for the events of every connection. The returned
// function removes it.
func (m *Manager) Subscribe(l Listener) func() {
	return m.hub.subscribe(l)
}

// Get returns the named connection
func (m *Manager) Get(name string) (*engine.Connection, bool) {
	conn, ok := m.conns[name]
	return conn, ok
}

// Names returns the managed connection names in sorted order
func (m *Manager) Names() []string {
	return append([]string(nil), m.names...)
}

// StartAll starts the shared pool and then every connection. Each
// connection applies its own kickoff delay.
func (m *Manager) StartAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.WrapInvalid(errors.ErrClosed, "Manager", "StartAll", "start after close")
	}
	if m.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "StartAll", "start twice")
	}

	if err := m.pool.Start(m.ctx); err != nil {
		return errors.WrapFatal(err, "Manager", "StartAll", "start worker pool")
	}
	m.started = true

	for _, name := range m.names {
		m.conns[name].Start()
	}
	m.logger.Info("connections started", "count", len(m.names))
	return nil
}

// CloseAll closes every connection and waits for their supervisors to exit
// or for ctx to expire. It is safe to call more than once.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	for _, name := range m.names {
		_ = m.conns[name].Close()
	}

	var waitErr error
	for _, name := range m.names {
		select {
		case <-m.conns[name].Done():
		case <-ctx.Done():
			waitErr = errors.WrapTransient(ctx.Err(), "Manager", "CloseAll",
				"wait for connection "+name)
		}
		if waitErr != nil {
			break
		}
	}

	m.cancel()
	if err := m.pool.Stop(poolStopTimeout); err != nil {
		m.logger.Warn("worker pool did not drain", "error", err)
	}

	m.logger.Info("connections closed", "count", len(m.names))
	return waitErr
}

// Statuses returns a snapshot of every connection in name order
func (m *Manager) Statuses() []engine.Status {
	out := make([]engine.Status, 0, len(m.names))
	for _, name := range m.names {
		out = append(out, m.conns[name].Status())
	}
	return out
}

// Health refreshes the monitor from the live connection state and returns
// the aggregated status.
func (m *Manager) Health() health.Status {
	for _, st := range m.Statuses() {
		observed := m.monitor.Observe(st)
		if m.core != nil {
			m.core.RecordHealthStatus(st.Name, observed.IsHealthy())
		}
	}
	return m.monitor.AggregateHealth(SystemName)
}
