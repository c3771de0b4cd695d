package testutil

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/c360/devlink/engine"
)

// ErrMockConnect is returned by PipeTransport.Connect when a failure is
// scripted.
var ErrMockConnect = errors.New("mock connect refused")

// PipeTransport is an in-memory engine.Transport. Each session gets fresh
// pipes; the test plays the peer through Feed, Hangup and Written.
type PipeTransport struct {
	mu sync.Mutex

	kind     engine.Kind
	identity string
	echoes   bool

	// ConnectFunc overrides Connect when set.
	ConnectFunc func(ctx context.Context) error

	reader  *io.PipeReader
	feeder  *io.PipeWriter
	open    bool
	written [][]byte
	writeCh chan []byte

	ConnectCalls int
	CloseCalls   int
}

// NewPipeTransport returns a transport of the given kind.
func NewPipeTransport(kind engine.Kind, identity string) *PipeTransport {
	return &PipeTransport{
		kind:     kind,
		identity: identity,
		writeCh:  make(chan []byte, 256),
	}
}

// SetEchoes makes the transport report that it echoes input, as an
// interactive shell does.
func (p *PipeTransport) SetEchoes(on bool) {
	p.mu.Lock()
	p.echoes = on
	p.mu.Unlock()
}

// EchoesInput implements engine.EchoingTransport.
func (p *PipeTransport) EchoesInput() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.echoes
}

func (p *PipeTransport) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.ConnectCalls++
	fn := p.ConnectFunc
	p.mu.Unlock()

	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}

	r, w := io.Pipe()
	p.mu.Lock()
	p.reader = r
	p.feeder = w
	p.open = true
	p.mu.Unlock()
	return nil
}

func (p *PipeTransport) Read(b []byte) (int, error) {
	p.mu.Lock()
	r := p.reader
	p.mu.Unlock()
	if r == nil {
		return 0, io.EOF
	}
	return r.Read(b)
}

func (p *PipeTransport) Write(b []byte) (int, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	cp := append([]byte(nil), b...)
	p.written = append(p.written, cp)
	p.mu.Unlock()

	select {
	case p.writeCh <- cp:
	default:
	}
	return len(b), nil
}

func (p *PipeTransport) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CloseCalls++
	p.open = false
	if p.reader != nil {
		_ = p.reader.Close()
	}
	if p.feeder != nil {
		_ = p.feeder.Close()
	}
	return nil
}

func (p *PipeTransport) Identity() string { return p.identity }

func (p *PipeTransport) Kind() engine.Kind { return p.kind }

// Feed delivers bytes from the peer. It blocks until the engine has read
// them and fails when no session is open.
func (p *PipeTransport) Feed(data string) error {
	p.mu.Lock()
	w := p.feeder
	open := p.open
	p.mu.Unlock()
	if w == nil || !open {
		return io.ErrClosedPipe
	}
	_, err := w.Write([]byte(data))
	return err
}

// Hangup ends the current session with a clean EOF.
func (p *PipeTransport) Hangup() {
	p.mu.Lock()
	w := p.feeder
	p.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

// Fail ends the current session with err.
func (p *PipeTransport) Fail(err error) {
	p.mu.Lock()
	w := p.feeder
	p.mu.Unlock()
	if w != nil {
		_ = w.CloseWithError(err)
	}
}

// IsOpen reports whether a session is live.
func (p *PipeTransport) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Connects returns how many times Connect was called.
func (p *PipeTransport) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ConnectCalls
}

// Written returns every payload written so far.
func (p *PipeTransport) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.written))
	for i, b := range p.written {
		out[i] = string(b)
	}
	return out
}

// Writes delivers payloads as they are written.
func (p *PipeTransport) Writes() <-chan []byte {
	return p.writeCh
}
