package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/config"
	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/transport"
)

func TestBuildTransport(t *testing.T) {
	tests := []struct {
		name     string
		cc       config.ConnectionConfig
		kind     engine.Kind
		identity string
	}{
		{
			name:     "tcp",
			cc:       config.ConnectionConfig{Type: config.TypeTCP, Dest: "10.0.0.5:4352"},
			kind:     engine.KindTCP,
			identity: "10.0.0.5:4352",
		},
		{
			name: "udp",
			cc:   config.ConnectionConfig{Type: config.TypeUDP, Source: "0.0.0.0:5000", Dest: "10.0.0.9:5000"},
			kind: engine.KindUDP,
		},
		{
			name: "process",
			cc:   config.ConnectionConfig{Type: config.TypeProcess, Command: []string{"cat", "-u"}},
			kind: engine.KindProcess,
		},
		{
			name: "ssh",
			cc: config.ConnectionConfig{
				Type: config.TypeSSH, Dest: "rack:22", Username: "admin", Command: []string{"tail", "-f", "/var/log/messages"},
			},
			kind: engine.KindSSH,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := BuildTransport(tt.name, tt.cc)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, tr.Kind())
			if tt.identity != "" {
				assert.Equal(t, tt.identity, tr.Identity())
			}
		})
	}
}

func TestBuildTransport_UDPIsPacketTransport(t *testing.T) {
	tr, err := BuildTransport("plc", config.ConnectionConfig{Type: config.TypeUDP})
	require.NoError(t, err)

	_, ok := tr.(engine.PacketTransport)
	assert.True(t, ok)
	assert.IsType(t, &transport.UDP{}, tr)
}

func TestBuildTransport_UnknownType(t *testing.T) {
	_, err := BuildTransport("x", config.ConnectionConfig{Type: "serial"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
