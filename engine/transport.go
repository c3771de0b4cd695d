package engine

import (
	"context"
	"io"
	"time"

	"github.com/c360/devlink/pkg/retry"
)

// Kind identifies the transport family and selects its framing and
// reconnect policies.
type Kind int

const (
	KindTCP Kind = iota
	KindUDP
	KindProcess
	KindSSH
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindProcess:
		return "process"
	case KindSSH:
		return "ssh"
	default:
		return "unknown"
	}
}

// Transport is a duplex channel the engine can (re)open. Close must unblock
// a pending Read and must be safe to call concurrently and repeatedly.
// Connect may be called again after Close to start a new session.
type Transport interface {
	Connect(ctx context.Context) error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	Identity() string
	Kind() Kind
}

// PacketTransport is implemented by datagram transports that expose the
// peer address of each packet and accept one-off destinations.
type PacketTransport interface {
	ReadFrom(p []byte) (n int, from string, err error)
	WriteTo(p []byte, dest string) (int, error)
}

// StderrSource is implemented by process transports. The reader is valid
// for the current session only and may be nil when stderr is merged.
type StderrSource interface {
	Stderr() io.Reader
}

// ExitReporter is implemented by transports that run a child process.
// ExitCode is meaningful after Close returns.
type ExitReporter interface {
	ExitCode() (code int, exited bool)
}

// EchoingTransport is implemented by interactive shells that echo the
// commands written to them.
type EchoingTransport interface {
	EchoesInput() bool
}

// DestinationSetter is implemented by transports with a mutable remote
// address. The new value applies to the next session.
type DestinationSetter interface {
	SetDest(dest string)
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

func (k Kind) maxSegmentSize() int {
	switch k {
	case KindSSH:
		return SSHMaxSegmentSize
	case KindUDP:
		return MaxDatagramSize
	default:
		return DefaultMaxSegmentSize
	}
}

// overflow on a child process only discards the buffer
func (k Kind) overflowFatal() bool {
	return k != KindProcess
}

func (k Kind) backoff() retry.Backoff {
	if k == KindUDP {
		return retry.FixedBackoff(retry.DatagramBackoff)
	}
	return retry.ExponentialBackoff()
}
