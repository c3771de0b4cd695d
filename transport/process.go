package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/errors"
)

// terminateGrace is how long a child gets to exit after the stop signal.
const terminateGrace = 5 * time.Second

// ProcessConfig describes a child process. Env entries are KEY=VALUE pairs
// added to the parent environment. MergeError sends stderr down the stdout
// stream.
type ProcessConfig struct {
	Command    []string
	Working    string
	Env        []string
	MergeError bool
}

// Process runs a child and exposes its stdin and stdout as a stream. Every
// Connect launches a new instance.
type Process struct {
	mu  sync.Mutex
	cfg ProcessConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File

	// exited belongs to the last child launched and outlives stopLocked, so
	// every Close waits for the exit status of a child already being stopped.
	exited   chan struct{}
	stopping *exec.Cmd

	exitCode int
	hasExit  bool
}

// NewProcess returns a process transport for cfg.
func NewProcess(cfg ProcessConfig) *Process {
	return &Process{cfg: cfg}
}

func (p *Process) validate() error {
	if len(p.cfg.Command) == 0 || p.cfg.Command[0] == "" {
		return errors.ErrNoCommand
	}
	for i, arg := range p.cfg.Command {
		if arg == "" {
			return fmt.Errorf("%w: argument %d is empty", errors.ErrNoCommand, i)
		}
	}

	if p.cfg.Working != "" {
		info, err := os.Stat(p.cfg.Working)
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrWorkingDir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", errors.ErrWorkingDir, p.cfg.Working)
		}
	}
	return nil
}

// Connect launches the process. ctx only bounds the launch, not the life
// of the child.
func (p *Process) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return errors.WrapInvalid(err, "Process", "Connect", "command check")
	}
	if p.cmd != nil {
		p.stopLocked()
	}

	cmd := exec.Command(p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Dir = p.cfg.Working
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.Env...)
	}
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.WrapTransient(err, "Process", "Connect", "stdin pipe")
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return errors.WrapTransient(err, "Process", "Connect", "stdout pipe")
	}
	cmd.Stdout = outW

	var errR, errW *os.File
	if p.cfg.MergeError {
		cmd.Stderr = outW
	} else {
		if errR, errW, err = os.Pipe(); err != nil {
			_ = outR.Close()
			_ = outW.Close()
			return errors.WrapTransient(err, "Process", "Connect", "stderr pipe")
		}
		cmd.Stderr = errW
	}

	startErr := cmd.Start()

	// the child holds its own copies of the write ends
	_ = outW.Close()
	if errW != nil {
		_ = errW.Close()
	}

	if startErr != nil {
		_ = outR.Close()
		if errR != nil {
			_ = errR.Close()
		}
		return errors.WrapTransient(startErr, "Process", "Connect", "start "+p.cfg.Command[0])
	}

	exited := make(chan struct{})
	p.cmd = cmd
	p.stdin = stdin
	p.stdout = outR
	p.stderr = errR
	p.exited = exited
	p.stopping = nil
	p.hasExit = false

	go func() {
		_ = cmd.Wait()
		p.mu.Lock()
		if p.exited == exited && cmd.ProcessState != nil {
			p.exitCode = cmd.ProcessState.ExitCode()
			p.hasExit = true
		}
		p.mu.Unlock()
		close(exited)
	}()

	return nil
}

func (p *Process) Read(b []byte) (int, error) {
	p.mu.Lock()
	out := p.stdout
	p.mu.Unlock()
	if out == nil {
		return 0, os.ErrClosed
	}
	return out.Read(b)
}

func (p *Process) Write(b []byte) (int, error) {
	p.mu.Lock()
	in := p.stdin
	p.mu.Unlock()
	if in == nil {
		return 0, errors.ErrNotConnected
	}
	return in.Write(b)
}

// Stderr returns the stderr stream of the live child, or nil when it is
// merged into stdout.
func (p *Process) Stderr() io.Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stderr == nil {
		return nil
	}
	return p.stderr
}

// ExitCode reports how the last child ended.
func (p *Process) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.hasExit
}

// Close stops the child: stdin is closed, the process group is signalled
// and killed if it outlives the grace period. It returns once the exit
// status is recorded, also when another Close already started the stop.
func (p *Process) Close() error {
	p.mu.Lock()
	p.stopLocked()
	cmd, exited := p.stopping, p.exited
	p.mu.Unlock()

	if exited == nil {
		return nil
	}

	timer := time.NewTimer(terminateGrace)
	defer timer.Stop()
	select {
	case <-exited:
	case <-timer.C:
		if cmd != nil {
			killProcess(cmd)
		}
		<-exited
	}
	return nil
}

// stopLocked signals the child and releases the pipes. Caller holds p.mu.
func (p *Process) stopLocked() {
	if p.cmd == nil {
		return
	}
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	select {
	case <-p.exited:
	default:
		terminateProcess(p.cmd)
	}
	if p.stdout != nil {
		_ = p.stdout.Close()
	}
	if p.stderr != nil {
		_ = p.stderr.Close()
	}
	p.stopping = p.cmd
	p.cmd = nil
	p.stdin = nil
	p.stdout = nil
	p.stderr = nil
}

func (p *Process) Identity() string {
	return strings.Join(p.cfg.Command, " ")
}

func (p *Process) Kind() engine.Kind { return engine.KindProcess }

var (
	_ engine.Transport    = (*Process)(nil)
	_ engine.StderrSource = (*Process)(nil)
	_ engine.ExitReporter = (*Process)(nil)
)
