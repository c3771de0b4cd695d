package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/errors"
)

// TCP is a stream transport to a "host:port" destination.
type TCP struct {
	mu     sync.Mutex
	dest   string
	dialer net.Dialer
	conn   net.Conn
}

// NewTCP returns a TCP transport. dest may be set later with SetDest.
func NewTCP(dest string) *TCP {
	return &TCP{
		dest:   dest,
		dialer: net.Dialer{KeepAlive: 30 * time.Second},
	}
}

func (t *TCP) Connect(ctx context.Context) error {
	t.mu.Lock()
	dest := t.dest
	t.mu.Unlock()

	d, err := ParseDestination(dest)
	if err != nil {
		return errors.WrapInvalid(err, "TCP", "Connect", "destination parse")
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", d.Address())
	if err != nil {
		return errors.WrapTransient(err, "TCP", "Connect", "dial "+d.Address())
	}

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (t *TCP) current() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *TCP) Read(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, net.ErrClosed
	}
	return conn.Read(p)
}

func (t *TCP) Write(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, errors.ErrNotConnected
	}
	return conn.Write(p)
}

// SetReadDeadline applies to the live session only.
func (t *TCP) SetReadDeadline(deadline time.Time) error {
	conn := t.current()
	if conn == nil {
		return nil
	}
	return conn.SetReadDeadline(deadline)
}

func (t *TCP) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// SetDest changes the destination used by the next Connect.
func (t *TCP) SetDest(dest string) {
	t.mu.Lock()
	t.dest = dest
	t.mu.Unlock()
}

func (t *TCP) Identity() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dest
}

func (t *TCP) Kind() engine.Kind { return engine.KindTCP }

var (
	_ engine.Transport         = (*TCP)(nil)
	_ engine.DestinationSetter = (*TCP)(nil)
)
