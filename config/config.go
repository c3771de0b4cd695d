package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/c360/devlink/engine"
	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/pkg/tlsutil"
)

// Connection types
const (
	TypeTCP     = "tcp"
	TypeUDP     = "udp"
	TypeProcess = "process"
	TypeSSH     = "ssh"
)

// Config represents the complete application configuration
type Config struct {
	Version     string                      `json:"version,omitempty"`
	Log         LogConfig                   `json:"log"`
	Metrics     MetricsConfig               `json:"metrics"`
	NATS        NATSConfig                  `json:"nats"`
	Bridge      BridgeConfig                `json:"bridge"`
	Gateway     GatewayConfig               `json:"gateway"`
	Workers     WorkerConfig                `json:"workers"`
	Connections map[string]ConnectionConfig `json:"connections"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// MetricsConfig controls the Prometheus and health endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty"`
	Name          string   `json:"name,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`

	// TLS client certificate and CA for the NATS connection
	TLSCertFile string `json:"tls_cert_file,omitempty"`
	TLSKeyFile  string `json:"tls_key_file,omitempty"`
	TLSCAFile   string `json:"tls_ca_file,omitempty"`
}

// TLSEnabled reports whether any NATS TLS file is configured
func (n NATSConfig) TLSEnabled() bool {
	return n.TLSCertFile != "" || n.TLSKeyFile != "" || n.TLSCAFile != ""
}

// BridgeConfig controls publication of frames onto NATS
type BridgeConfig struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix,omitempty"`
}

// GatewayConfig controls the WebSocket frame tap. With TLS set the tap
// serves wss.
type GatewayConfig struct {
	Enabled bool                  `json:"enabled"`
	Port    int                   `json:"port"`
	Path    string                `json:"path,omitempty"`
	TLS     *tlsutil.ServerConfig `json:"tls,omitempty"`
}

// WorkerConfig sizes the shared pool that runs sends and timeout firings
type WorkerConfig struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
}

// ConnectionConfig describes one managed connection.
type ConnectionConfig struct {
	Type    string `json:"type"`
	Enabled *bool  `json:"enabled,omitempty"`

	// tcp, ssh and udp
	Dest string `json:"dest,omitempty"`
	// udp
	Source    string `json:"source,omitempty"`
	Interface string `json:"interface,omitempty"`

	// process, and the remote command for exec-mode ssh
	Command    []string          `json:"command,omitempty"`
	Working    string            `json:"working,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	MergeError bool              `json:"merge_error,omitempty"`

	// ssh
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	KeyFile     string `json:"key_file,omitempty"`
	KnownHosts  string `json:"known_hosts,omitempty"`
	Shell       bool   `json:"shell,omitempty"`
	DisableEcho bool   `json:"disable_echo,omitempty"`

	// Unset delimiters take the engine defaults; an empty string is kept.
	SendDelimiters       *string `json:"send_delimiters,omitempty"`
	ReceiveDelimiters    *string `json:"receive_delimiters,omitempty"`
	BinaryStartStopFlags []int   `json:"binary_start_stop_flags,omitempty"`

	Timeout        Duration `json:"timeout,omitempty"`
	ConnectTimeout Duration `json:"connect_timeout,omitempty"`
	RequestTimeout Duration `json:"request_timeout,omitempty"`
	MaxSegmentSize int      `json:"max_segment_size,omitempty"`
	SendRate       float64  `json:"send_rate,omitempty"`
	SendBurst      int      `json:"send_burst,omitempty"`
}

// IsEnabled reports whether the connection should be built. Connections
// are enabled unless explicitly disabled.
func (cc ConnectionConfig) IsEnabled() bool {
	return cc.Enabled == nil || *cc.Enabled
}

// Options maps the connection settings onto engine options. Handlers are
// left for the caller to fill in.
func (cc ConnectionConfig) Options() engine.Options {
	opts := engine.DefaultOptions()
	if cc.SendDelimiters != nil {
		opts.SendDelimiters = *cc.SendDelimiters
	}
	if cc.ReceiveDelimiters != nil {
		opts.ReceiveDelimiters = *cc.ReceiveDelimiters
	}
	if n := len(cc.BinaryStartStopFlags); n > 0 {
		flags := &engine.StartStopFlags{Start: byte(cc.BinaryStartStopFlags[0])}
		if n > 1 {
			flags.Stop = byte(cc.BinaryStartStopFlags[1])
			flags.HasStop = true
		}
		opts.BinaryStartStopFlags = flags
	}
	if cc.Timeout > 0 {
		opts.Timeout = cc.Timeout.Duration()
	}
	if cc.ConnectTimeout > 0 {
		opts.ConnectTimeout = cc.ConnectTimeout.Duration()
	}
	if cc.RequestTimeout > 0 {
		opts.RequestTimeout = cc.RequestTimeout.Duration()
	}
	opts.MaxSegmentSize = cc.MaxSegmentSize
	opts.SendRate = cc.SendRate
	opts.SendBurst = cc.SendBurst
	return opts
}

// EnvList returns Env as sorted KEY=VALUE pairs.
func (cc ConnectionConfig) EnvList() []string {
	if len(cc.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(cc.Env))
	for k := range cc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+cc.Env[k])
	}
	return env
}

// Validate checks the settings that cannot be corrected by retrying.
// Malformed destinations are left to the connection, which reports them
// and keeps retrying.
func (cc ConnectionConfig) Validate() error {
	switch cc.Type {
	case TypeTCP:
		if cc.Dest == "" {
			return invalid("dest is required for tcp connections")
		}
	case TypeUDP:
	case TypeProcess:
		if len(cc.Command) == 0 {
			return invalid("command is required for process connections")
		}
	case TypeSSH:
		if cc.Dest == "" {
			return invalid("dest is required for ssh connections")
		}
		if cc.Username == "" {
			return invalid("username is required for ssh connections")
		}
		if !cc.Shell && len(cc.Command) == 0 {
			return invalid("ssh connections need either shell or command")
		}
	case "":
		return invalid("type is required")
	default:
		return invalid(fmt.Sprintf("unknown type %q", cc.Type))
	}

	if n := len(cc.BinaryStartStopFlags); n > 2 {
		return invalid("binary_start_stop_flags takes a start flag and an optional stop flag")
	}
	for _, f := range cc.BinaryStartStopFlags {
		if f < 0 || f > 255 {
			return invalid(fmt.Sprintf("binary flag %d is not a byte", f))
		}
	}
	if cc.SendRate < 0 {
		return invalid("send_rate cannot be negative")
	}
	if cc.MaxSegmentSize < 0 {
		return invalid("max_segment_size cannot be negative")
	}
	return nil
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return invalid(fmt.Sprintf("log.format %q is not one of json, text", c.Log.Format))
	}

	if err := validatePort("metrics.port", c.Metrics.Port, c.Metrics.Enabled); err != nil {
		return err
	}
	if err := validatePort("gateway.port", c.Gateway.Port, c.Gateway.Enabled); err != nil {
		return err
	}
	if c.Gateway.TLS != nil {
		if err := c.Gateway.TLS.Validate(); err != nil {
			return invalid(fmt.Sprintf("gateway.tls: %v", err))
		}
	}
	if (c.NATS.TLSCertFile == "") != (c.NATS.TLSKeyFile == "") {
		return invalid("nats.tls_cert_file and nats.tls_key_file must be set together")
	}

	if c.Bridge.Enabled {
		if len(c.NATS.URLs) == 0 {
			return invalid("nats.urls is required when the bridge is enabled")
		}
		if !isValidNATSSubjectPart(c.Bridge.Prefix) {
			return invalid(fmt.Sprintf("bridge.prefix %q is not valid in NATS subjects", c.Bridge.Prefix))
		}
	}

	if c.Workers.Workers < 0 || c.Workers.QueueSize < 0 {
		return invalid("workers settings cannot be negative")
	}

	for name, cc := range c.Connections {
		// connection names become NATS subject tokens
		if !isValidNATSSubjectPart(name) || strings.Contains(name, ".") {
			return invalid(fmt.Sprintf("connection name %q must be alphanumeric with dashes or underscores", name))
		}
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("connection %s: %w", name, err)
		}
	}

	return nil
}

// EnabledConnections returns the names of enabled connections in sorted order
func (c *Config) EnabledConnections() []string {
	names := make([]string, 0, len(c.Connections))
	for name, cc := range c.Connections {
		if cc.IsEnabled() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	if len(c.Connections) > 0 {
		masked.Connections = make(map[string]ConnectionConfig, len(c.Connections))
		for name, cc := range c.Connections {
			if cc.Password != "" {
				cc.Password = "***"
			}
			masked.Connections[name] = cc
		}
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

func validatePort(field string, port int, required bool) error {
	if port < 0 || port > 65535 {
		return invalid(fmt.Sprintf("%s %d is out of range", field, port))
	}
	if required && port == 0 {
		return invalid(field + " is required when enabled")
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg)
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
// Valid characters are alphanumeric, dots, dashes, and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// Duration is a time.Duration that decodes from a Go duration string
// ("1500ms", "2m", "14d") or from a number of milliseconds.
type Duration time.Duration

// Duration returns the value as a time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration as a Go duration string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of milliseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(time.Duration(v * float64(time.Millisecond)))
	case string:
		parsed, err := parseDurationWithDays(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		days := strings.TrimSuffix(s, "d")
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
