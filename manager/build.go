package manager

import (
	"fmt"
	"strings"

	"github.com/c360/devlink/config"
	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/transport"
)

// TransportBuilder creates the transport for a configured connection
type TransportBuilder func(name string, cc config.ConnectionConfig) (engine.Transport, error)

// BuildTransport maps a connection config onto one of the transport
// adapters. Destinations are not resolved here; a bad address surfaces on
// connect and is retried.
func BuildTransport(name string, cc config.ConnectionConfig) (engine.Transport, error) {
	switch cc.Type {
	case config.TypeTCP:
		return transport.NewTCP(cc.Dest), nil
	case config.TypeUDP:
		return transport.NewUDP(transport.UDPConfig{
			Source:    cc.Source,
			Dest:      cc.Dest,
			Interface: cc.Interface,
		}), nil
	case config.TypeProcess:
		return transport.NewProcess(transport.ProcessConfig{
			Command:    cc.Command,
			Working:    cc.Working,
			Env:        cc.EnvList(),
			MergeError: cc.MergeError,
		}), nil
	case config.TypeSSH:
		return transport.NewSSH(transport.SSHConfig{
			Dest:           cc.Dest,
			Username:       cc.Username,
			Password:       cc.Password,
			KeyFile:        cc.KeyFile,
			KnownHostsFile: cc.KnownHosts,
			Command:        strings.Join(cc.Command, " "),
			Shell:          cc.Shell,
			DisableEcho:    cc.DisableEcho,
		}), nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown type %q", errors.ErrInvalidConfig, cc.Type),
			"Manager", "BuildTransport", "build transport for "+name)
	}
}
