package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/errors"
)

// SSHConfig describes an SSH endpoint. With Shell set the session is an
// interactive shell kept open across requests; otherwise Command runs once
// per session. Without KnownHostsFile host keys are not verified.
type SSHConfig struct {
	Dest           string
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string
	Command        string
	Shell          bool
	DisableEcho    bool
}

// SSH is a transport over an SSH session channel.
type SSH struct {
	mu  sync.Mutex
	cfg SSHConfig

	conn    net.Conn
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader
}

// NewSSH returns an SSH transport for cfg.
func NewSSH(cfg SSHConfig) *SSH {
	return &SSH{cfg: cfg}
}

func (s *SSH) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if s.cfg.KeyFile != "" {
		pem, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", s.cfg.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if s.cfg.Password != "" {
		password := s.cfg.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if s.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(s.cfg.KnownHostsFile)
		if err != nil {
			return nil, err
		}
		hostKeys = cb
	}

	return &ssh.ClientConfig{
		User:            s.cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
	}, nil
}

func (s *SSH) Connect(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	d, err := ParseDestination(cfg.Dest)
	if err != nil {
		return errors.WrapInvalid(err, "SSH", "Connect", "destination parse")
	}
	if !cfg.Shell && cfg.Command == "" {
		return errors.WrapInvalid(errors.ErrNoCommand, "SSH", "Connect", "command check")
	}

	clientCfg, err := s.clientConfig()
	if err != nil {
		return errors.WrapInvalid(err, "SSH", "Connect", "client config")
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", d.Address())
	if err != nil {
		return errors.WrapTransient(err, "SSH", "Connect", "dial "+d.Address())
	}

	// the handshake has no context of its own
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, d.Address(), clientCfg)
	if err != nil {
		_ = conn.Close()
		return errors.WrapTransient(err, "SSH", "Connect", "handshake")
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := s.openSession(client, cfg)
	if err != nil {
		_ = client.Close()
		return err
	}

	s.mu.Lock()
	old := s.client
	s.conn = conn
	s.client = client
	s.session = session.session
	s.stdin = session.stdin
	s.stdout = session.stdout
	s.stderr = session.stderr
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

type sshSession struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader
}

func (s *SSH) openSession(client *ssh.Client, cfg SSHConfig) (*sshSession, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, errors.WrapTransient(err, "SSH", "Connect", "open session")
	}

	out := &sshSession{session: session}
	fail := func(action string, err error) (*sshSession, error) {
		_ = session.Close()
		return nil, errors.WrapTransient(err, "SSH", "Connect", action)
	}

	if out.stdin, err = session.StdinPipe(); err != nil {
		return fail("stdin pipe", err)
	}
	if out.stdout, err = session.StdoutPipe(); err != nil {
		return fail("stdout pipe", err)
	}

	if !cfg.Shell {
		if out.stderr, err = session.StderrPipe(); err != nil {
			return fail("stderr pipe", err)
		}
		if err := session.Start(cfg.Command); err != nil {
			return fail("exec", err)
		}
		return out, nil
	}

	echo := uint32(1)
	if cfg.DisableEcho {
		echo = 0
	}
	modes := ssh.TerminalModes{ssh.ECHO: echo}
	if err := session.RequestPty("vt100", 40, 80, modes); err != nil {
		return fail("pty request", err)
	}
	if err := session.Shell(); err != nil {
		return fail("shell", err)
	}
	return out, nil
}

func (s *SSH) Read(p []byte) (int, error) {
	s.mu.Lock()
	out := s.stdout
	s.mu.Unlock()
	if out == nil {
		return 0, net.ErrClosed
	}
	return out.Read(p)
}

func (s *SSH) Write(p []byte) (int, error) {
	s.mu.Lock()
	in := s.stdin
	s.mu.Unlock()
	if in == nil {
		return 0, errors.ErrNotConnected
	}
	return in.Write(p)
}

// SetReadDeadline applies to the underlying TCP connection.
func (s *SSH) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.SetReadDeadline(t)
}

// Stderr returns the stderr stream of an exec session. Shell sessions run
// on a terminal, which merges it into stdout.
func (s *SSH) Stderr() io.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stderr
}

// EchoesInput reports whether the remote terminal echoes what is written.
func (s *SSH) EchoesInput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Shell && !s.cfg.DisableEcho
}

func (s *SSH) Close() error {
	s.mu.Lock()
	session := s.session
	client := s.client
	s.session = nil
	s.client = nil
	s.conn = nil
	s.stdin = nil
	s.stdout = nil
	s.stderr = nil
	s.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

// SetDest changes the destination used by the next Connect.
func (s *SSH) SetDest(dest string) {
	s.mu.Lock()
	s.cfg.Dest = dest
	s.mu.Unlock()
}

func (s *SSH) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Username == "" {
		return s.cfg.Dest
	}
	return s.cfg.Username + "@" + s.cfg.Dest
}

func (s *SSH) Kind() engine.Kind { return engine.KindSSH }

var (
	_ engine.Transport         = (*SSH)(nil)
	_ engine.EchoingTransport  = (*SSH)(nil)
	_ engine.StderrSource      = (*SSH)(nil)
	_ engine.DestinationSetter = (*SSH)(nil)
)
