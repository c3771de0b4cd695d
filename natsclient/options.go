package natsclient

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/devlink/metric"
)

// ClientOption configures a Client. An option that rejects its arguments
// makes NewClient fail.
type ClientOption func(*Client) error

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithName sets the connection name shown by the server
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.name = name
		return nil
	}
}

// WithMaxReconnects bounds automatic reconnects after a lost connection.
// -1 reconnects forever.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnect attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("reconnect wait must be positive, got %v", d)
		}
		c.reconnectWait = d
		return nil
	}
}

// WithTimeout sets the dial timeout of a single connect attempt
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds how long Close waits for the drain
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("drain timeout must be positive, got %v", d)
		}
		c.drainTimeout = d
		return nil
	}
}

// WithHandlerTimeout bounds the context passed to subscription handlers
func WithHandlerTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("handler timeout must be positive, got %v", d)
		}
		c.handlerTimeout = d
		return nil
	}
}

// WithHealthInterval sets how often a connected client measures RTT. Zero
// disables the check.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.healthInterval = d
		return nil
	}
}

// WithCircuitBreakerThreshold sets the consecutive failures that open the
// breaker
func WithCircuitBreakerThreshold(n int) ClientOption {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("circuit breaker threshold must be at least 1, got %d", n)
		}
		c.threshold = n
		return nil
	}
}

// WithMaxBackoff caps the time the breaker stays open
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < time.Second {
			return fmt.Errorf("max backoff must be at least 1s, got %v", d)
		}
		c.maxBackoff = d
		return nil
	}
}

// WithCredentials authenticates with a user and password
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		if username == "" {
			return stderrors.New("username is required")
		}
		c.auth = []nats.Option{nats.UserInfo(username, password)}
		return nil
	}
}

// WithToken authenticates with a token
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		if token == "" {
			return stderrors.New("token is required")
		}
		c.auth = []nats.Option{nats.Token(token)}
		return nil
	}
}

// WithTLS secures the connection. certFile and keyFile present a client
// certificate and go together; caFile verifies the server.
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(c *Client) error {
		if (certFile == "") != (keyFile == "") {
			return stderrors.New("TLS certificate and key must be set together")
		}
		opts := []nats.Option{nats.Secure()}
		if certFile != "" {
			opts = append(opts, nats.ClientCert(certFile, keyFile))
		}
		if caFile != "" {
			opts = append(opts, nats.RootCAs(caFile))
		}
		c.tls = opts
		return nil
	}
}

// WithMetrics records connectivity, RTT and reconnects in the registry's
// core metrics
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
		return nil
	}
}

// WithDisconnectCallback is called when an established connection drops
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback is called when a dropped connection comes back
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithHealthChangeCallback is called with the new health on every change
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}
