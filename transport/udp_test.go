package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/errors"
)

func bindUDP(t *testing.T, cfg UDPConfig) *UDP {
	t.Helper()
	u := NewUDP(cfg)
	require.NoError(t, u.Connect(context.Background()))
	t.Cleanup(func() { _ = u.Close() })
	return u
}

func TestUDP_SendAndReply(t *testing.T) {
	server := bindUDP(t, UDPConfig{Source: "127.0.0.1:0"})
	serverAddr := server.LocalAddr().String()

	client := bindUDP(t, UDPConfig{Source: "127.0.0.1:0", Dest: serverAddr})
	assert.Equal(t, engine.KindUDP, client.Kind())
	assert.Equal(t, serverAddr, client.Identity())

	_, err := client.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, engine.MaxDatagramSize)
	n, from, err := server.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	assert.Equal(t, client.LocalAddr().String(), from)

	_, err = server.WriteTo([]byte("pong"), from)
	require.NoError(t, err)

	n, err = client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))
}

func TestUDP_SetDestAppliesImmediately(t *testing.T) {
	first := bindUDP(t, UDPConfig{Source: "127.0.0.1:0"})
	second := bindUDP(t, UDPConfig{Source: "127.0.0.1:0"})
	sender := bindUDP(t, UDPConfig{Source: "127.0.0.1:0", Dest: first.LocalAddr().String()})

	sender.SetDest(second.LocalAddr().String())
	_, err := sender.Write([]byte("moved"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, _, err := second.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "moved", string(buf[:n]))
}

func TestUDP_WriteWithoutDestination(t *testing.T) {
	u := bindUDP(t, UDPConfig{Source: "127.0.0.1:0"})

	_, err := u.Write([]byte("x"))
	assert.ErrorIs(t, err, errors.ErrNoDestination)
}

func TestUDP_CloseUnblocksRead(t *testing.T) {
	u := NewUDP(UDPConfig{Source: "127.0.0.1:0"})
	require.NoError(t, u.Connect(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, _, err := u.ReadFrom(make([]byte, 16))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, u.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read was not unblocked")
	}
}

func TestUDP_InvalidAddresses(t *testing.T) {
	err := NewUDP(UDPConfig{Source: "bad"}).Connect(context.Background())
	assert.True(t, errors.IsInvalid(err))

	err = NewUDP(UDPConfig{Dest: "host:"}).Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrInvalidDestination)

	err = NewUDP(UDPConfig{Interface: "no-such-interface0"}).Connect(context.Background())
	assert.True(t, errors.IsInvalid(err))
}
