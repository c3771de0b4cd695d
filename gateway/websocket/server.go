package websocket

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/manager"
	"github.com/c360/devlink/metric"
)

// QueryConnection selects the connection a client is bound to
const QueryConnection = "connection"

// Connections is the part of manager.Manager the tap uses
type Connections interface {
	Get(name string) (*engine.Connection, bool)
	Subscribe(manager.Listener) func()
}

// Config holds tap settings
type Config struct {
	Port int
	Path string
	// SendBuffer is the number of events queued per client before new
	// events are dropped for that client.
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	// TLS makes Start serve wss
	TLS *tls.Config
}

// DefaultConfig returns the tap defaults
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		Path:         "/ws",
		SendBuffer:   256,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Command is what a client not bound to a connection sends
type Command struct {
	Connection string `json:"connection"`
	Data       string `json:"data"`
}

type client struct {
	conn    *websocket.Conn
	filter  string
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	dropped int
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Server streams connection events to WebSocket clients and forwards the
// text they send into connections.
type Server struct {
	conns  Connections
	cfg    Config
	logger *slog.Logger

	upgrader websocket.Upgrader
	clients  map[*client]struct{}
	clientMu sync.RWMutex

	clientGauge prometheus.Gauge
	registry    *metric.MetricsRegistry

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	stop     func()
	wg       sync.WaitGroup
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics registers the connected-clients gauge
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Server) {
		s.registry = registry
	}
}

// New returns a tap for conns. Zero config fields take the defaults.
func New(conns Connections, cfg Config, opts ...Option) *Server {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}

	s := &Server{
		conns:  conns,
		cfg:    cfg,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			// the tap is meant for local tooling
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
		clientGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devlink",
			Subsystem: "gateway",
			Name:      "websocket_clients",
			Help:      "Connected WebSocket tap clients",
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "websocket-gateway")

	if s.registry != nil {
		if err := s.registry.Register("gateway", "websocket_clients", s.clientGauge); err != nil {
			s.logger.Warn("client gauge not registered", "error", err)
		}
	}
	return s
}

// Handler returns the upgrade handler mounted at the configured path
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	return mux
}

// Start subscribes to connection events and serves the tap in the
// background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start twice")
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on port %d", s.cfg.Port))
	}

	if s.cfg.TLS != nil {
		listener = tls.NewListener(listener, s.cfg.TLS)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.stop = s.Attach()

	go func(srv *http.Server, l net.Listener) {
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			s.logger.Error("websocket server failed", "error", err)
		}
	}(s.server, listener)

	s.logger.Info("websocket gateway listening", "address", listener.Addr().String(),
		"path", s.cfg.Path, "tls", s.cfg.TLS != nil)
	return nil
}

// Attach subscribes the tap to connection events without serving. Use it
// when Handler is mounted on an existing server.
func (s *Server) Attach() func() {
	return s.conns.Subscribe(s.broadcast)
}

// Stop shuts the server down and disconnects every client
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	server := s.server
	stop := s.stop
	s.server = nil
	s.listener = nil
	s.stop = nil
	s.mu.Unlock()

	var err error
	if server != nil {
		stop()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err = server.Shutdown(ctx)
		cancel()
	}

	s.closeAllClients()
	s.wg.Wait()

	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown http server")
	}
	return nil
}

// Address returns the ws:// or wss:// URL of the tap
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	port := s.cfg.Port
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			port = addr.Port
		}
	}
	scheme := "ws"
	if s.cfg.TLS != nil {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://localhost:%d%s", scheme, port, s.cfg.Path)
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get(QueryConnection)
	if filter != "" {
		if _, ok := s.conns.Get(filter); !ok {
			http.Error(w, "unknown connection", http.StatusNotFound)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		filter: filter,
		send:   make(chan []byte, s.cfg.SendBuffer),
		done:   make(chan struct{}),
	}

	s.clientMu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.clientMu.Unlock()
	s.clientGauge.Set(float64(count))
	s.logger.Debug("client connected", "remote", r.RemoteAddr, "connection", filter)

	s.wg.Add(2)
	go s.writeLoop(c)
	go s.readLoop(c)
}

func (s *Server) removeClient(c *client) {
	c.close()

	s.clientMu.Lock()
	delete(s.clients, c)
	count := len(s.clients)
	s.clientMu.Unlock()
	s.clientGauge.Set(float64(count))
}

func (s *Server) closeAllClients() {
	s.clientMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientMu.RUnlock()

	for _, c := range clients {
		s.removeClient(c)
	}
}

// broadcast runs on a connection's dispatching goroutine, so it only
// queues. A client whose buffer is full misses the event.
func (s *Server) broadcast(e manager.Event) {
	var data []byte

	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	for c := range s.clients {
		if c.filter != "" && c.filter != e.Connection {
			continue
		}
		if data == nil {
			var err error
			if data, err = json.Marshal(e); err != nil {
				s.logger.Warn("event encoding failed", "error", err)
				return
			}
		}
		select {
		case c.send <- data:
		default:
			c.dropped++
			if c.dropped == 1 || c.dropped%100 == 0 {
				s.logger.Warn("slow websocket client, dropping events",
					"remote", c.conn.RemoteAddr().String(), "dropped", c.dropped)
			}
		}
	}
}

func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	readTimeout := 2 * s.cfg.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		s.forward(c, data)
	}
}

func (s *Server) forward(c *client, data []byte) {
	name, payload := c.filter, string(data)
	if name == "" {
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.logger.Debug("ignoring malformed command", "error", err)
			return
		}
		name, payload = cmd.Connection, cmd.Data
	}

	conn, ok := s.conns.Get(name)
	if !ok {
		s.logger.Debug("ignoring command for unknown connection", "connection", name)
		return
	}
	conn.Send(payload)
}
