package transport

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/pkg/retry"
	"github.com/c360/devlink/testutil"
)

type frames struct {
	mu  sync.Mutex
	got []string
}

func (f *frames) add(s string) {
	f.mu.Lock()
	f.got = append(f.got, s)
	f.mu.Unlock()
}

func (f *frames) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

func startConnection(t *testing.T, tr engine.Transport, opts engine.Options) (*engine.Connection, *testutil.FakeClock) {
	t.Helper()
	return startConnectionWith(t, engine.Deps{Transport: tr}, opts)
}

// startConnectionWith fills in a fake clock and a discarding logger.
func startConnectionWith(t *testing.T, deps engine.Deps, opts engine.Options) (*engine.Connection, *testutil.FakeClock) {
	t.Helper()

	clock := testutil.NewFakeClock()
	deps.Clock = clock
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	conn, err := engine.NewConnection("loopback", opts, deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	conn.Start()
	clock.Advance(retry.DefaultKickoff + retry.DefaultKickoffSpread)
	return conn, clock
}

func TestConnectionOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	requests := make(chan string, 4)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("hello\nwor"))
		time.Sleep(10 * time.Millisecond)
		_, _ = conn.Write([]byte("ld\n"))

		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			requests <- line
			_, _ = conn.Write([]byte("re: " + line))
		}
	}()

	var received frames
	opts := engine.DefaultOptions()
	opts.Handlers.Received = received.add

	conn, _ := startConnection(t, NewTCP(ln.Addr().String()), opts)

	require.Eventually(t, func() bool { return len(received.list()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"hello", "world"}, received.list())

	reply, ok := conn.RequestWaitAndReceive(t.Context(), "status", 5*time.Second)
	require.True(t, ok)
	assert.Equal(t, "re: status", reply)
	assert.Equal(t, "status\n", <-requests)
}

func TestConnectionOverTCP_OverflowReconnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{}, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- struct{}{}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = c.Write([]byte("0123456789abcdef"))
				_, _ = io.Copy(io.Discard, c)
			}(conn)
		}
	}()

	var errs frames
	opts := engine.DefaultOptions()
	opts.MaxSegmentSize = 8
	opts.Handlers.Error = func(err error) { errs.add(err.Error()) }

	_, clock := startConnection(t, NewTCP(ln.Addr().String()), opts)

	<-accepted
	require.Eventually(t, func() bool { return len(errs.list()) >= 1 }, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		clock.Advance(100 * time.Millisecond)
		return len(accepted) > 0
	}, 5*time.Second, 10*time.Millisecond)
}
