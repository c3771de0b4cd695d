package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/devlink/errors"
)

// HealthFunc returns the health document for /health and whether the
// process is healthy. An unhealthy process answers 503.
type HealthFunc func() (any, bool)

const shutdownTimeout = 5 * time.Second

// Server serves the Prometheus registry and the health document over HTTP
type Server struct {
	port     int
	path     string
	registry *MetricsRegistry
	health   HealthFunc

	mu   sync.Mutex
	srv  *http.Server
	addr net.Addr
}

// NewServer returns a stopped server. An empty path serves /metrics; a nil
// health func answers a plain OK.
func NewServer(port int, path string, registry *MetricsRegistry, health HealthFunc) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{port: port, path: path, registry: registry, health: health}
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+s.path, promhttp.HandlerFor(s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("GET /health", s.serveHealth)
	return mux
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		_, _ = w.Write([]byte("OK"))
		return
	}

	doc, healthy := s.health()
	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(doc)
}

// Start listens on the configured port and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start twice")
	}
	if s.registry == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Server", "Start", "registry check")
	}

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on port %d", s.port))
	}

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.srv, s.addr = srv, l.Addr()
	go func() { _ = srv.Serve(l) }()
	return nil
}

// Stop shuts the server down, letting in-flight scrapes finish briefly
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.addr = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return errors.WrapTransient(err, "Server", "Stop", "shutdown")
	}
	return nil
}

// Address returns the URL of the metrics endpoint
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	port := s.port
	if tcp, ok := s.addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	return fmt.Sprintf("http://localhost:%d%s", port, s.path)
}
