package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/errors"
)

type sshServer struct {
	addr       string
	hostKey    ssh.Signer
	clientPriv ed25519.PrivateKey
}

// startSSHServer runs a minimal SSH server: exec requests print "ran <cmd>"
// on stdout and a warning on stderr; shells answer each line with
// "got <line>", echoing the input first when the pty asked for echo.
func startSSHServer(t *testing.T) *sshServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	_, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	clientKey, err := ssh.NewSignerFromKey(clientPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "tester" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, fmt.Errorf("denied")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), clientKey.PublicKey().Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		},
	}
	cfg.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(nc, cfg)
		}
	}()

	return &sshServer{addr: ln.Addr().String(), hostKey: hostKey, clientPriv: clientPriv}
}

func serveSSH(nc net.Conn, cfg *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, chReqs)
	}
}

func serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	echo := false

	for req := range reqs {
		switch req.Type {
		case "pty-req":
			echo = ptyWantsEcho(req.Payload)
			_ = req.Reply(true, nil)
		case "exec":
			var payload struct{ Command string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			_ = req.Reply(true, nil)
			fmt.Fprintf(ch, "ran %s\n", payload.Command)
			fmt.Fprintf(ch.Stderr(), "warning from %s\n", payload.Command)
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
			return
		case "shell":
			_ = req.Reply(true, nil)
			go func(echo bool) {
				scanner := bufio.NewScanner(ch)
				for scanner.Scan() {
					line := scanner.Text()
					if echo {
						fmt.Fprintf(ch, "%s\r\n", line)
					}
					fmt.Fprintf(ch, "got %s\r\n", line)
				}
			}(echo)
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func ptyWantsEcho(payload []byte) bool {
	var req struct {
		Term    string
		Columns uint32
		Rows    uint32
		Width   uint32
		Height  uint32
		Modes   string
	}
	if err := ssh.Unmarshal(payload, &req); err != nil {
		return true
	}

	modes := []byte(req.Modes)
	for len(modes) >= 5 && modes[0] != 0 {
		if modes[0] == ssh.ECHO {
			return binary.BigEndian.Uint32(modes[1:5]) != 0
		}
		modes = modes[5:]
	}
	return true
}

func connectSSH(t *testing.T, cfg SSHConfig) *SSH {
	t.Helper()
	s := NewSSH(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSSH_Exec(t *testing.T) {
	srv := startSSHServer(t)
	s := connectSSH(t, SSHConfig{Dest: srv.addr, Username: "tester", Password: "secret", Command: "uptime"})

	assert.Equal(t, engine.KindSSH, s.Kind())
	assert.Equal(t, "tester@"+srv.addr, s.Identity())
	assert.False(t, s.EchoesInput())

	stderr := s.Stderr()
	require.NotNil(t, stderr)

	assert.Equal(t, "ran uptime\n", readUntilEOF(t, s))
	assert.Equal(t, "warning from uptime\n", readUntilEOF(t, stderr))
}

func TestSSH_ShellEcho(t *testing.T) {
	srv := startSSHServer(t)

	tests := []struct {
		name        string
		disableEcho bool
		want        []string
	}{
		{"echo on", false, []string{"hello", "got hello"}},
		{"echo off", true, []string{"got hello"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := connectSSH(t, SSHConfig{
				Dest: srv.addr, Username: "tester", Password: "secret",
				Shell: true, DisableEcho: tt.disableEcho,
			})
			assert.Equal(t, !tt.disableEcho, s.EchoesInput())
			assert.Nil(t, s.Stderr())

			_, err := s.Write([]byte("hello\n"))
			require.NoError(t, err)

			r := bufio.NewReader(s)
			for _, want := range tt.want {
				line, err := r.ReadString('\n')
				require.NoError(t, err)
				assert.Equal(t, want, strings.TrimSpace(line))
			}
		})
	}
}

func TestSSH_KeyAuthAndKnownHosts(t *testing.T) {
	srv := startSSHServer(t)
	dir := t.TempDir()

	block, err := ssh.MarshalPrivateKey(srv.clientPriv, "")
	require.NoError(t, err)
	keyFile := filepath.Join(dir, "id_ed25519")
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(block), 0o600))

	knownHosts := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, srv.hostKey.PublicKey())
	require.NoError(t, os.WriteFile(knownHosts, []byte(line+"\n"), 0o600))

	s := connectSSH(t, SSHConfig{
		Dest: srv.addr, Username: "tester", KeyFile: keyFile,
		KnownHostsFile: knownHosts, Command: "id",
	})
	assert.Equal(t, "ran id\n", readUntilEOF(t, s))

	// a known_hosts entry for another key is rejected
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	other, err := ssh.NewSignerFromKey(otherPriv)
	require.NoError(t, err)
	wrong := filepath.Join(dir, "known_hosts_wrong")
	line = knownhosts.Line([]string{knownhosts.Normalize(srv.addr)}, other.PublicKey())
	require.NoError(t, os.WriteFile(wrong, []byte(line+"\n"), 0o600))

	err = NewSSH(SSHConfig{
		Dest: srv.addr, Username: "tester", KeyFile: keyFile,
		KnownHostsFile: wrong, Command: "id",
	}).Connect(context.Background())
	assert.Error(t, err)
}

func TestSSH_ConnectErrors(t *testing.T) {
	srv := startSSHServer(t)

	err := NewSSH(SSHConfig{Dest: srv.addr, Username: "tester", Password: "wrong", Command: "x"}).
		Connect(context.Background())
	assert.Error(t, err)

	err = NewSSH(SSHConfig{Dest: srv.addr, Username: "tester", Password: "secret"}).
		Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrNoCommand)

	err = NewSSH(SSHConfig{Dest: "nope", Command: "x"}).Connect(context.Background())
	assert.True(t, errors.IsInvalid(err))

	err = NewSSH(SSHConfig{Dest: srv.addr, KeyFile: "/no/such/key", Command: "x"}).Connect(context.Background())
	assert.True(t, errors.IsInvalid(err))
}

func TestSSH_SetDest(t *testing.T) {
	s := NewSSH(SSHConfig{Dest: "a:22"})
	s.SetDest("b:22")
	assert.Equal(t, "b:22", s.Identity())
}
