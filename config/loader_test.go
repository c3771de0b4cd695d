package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/devlink/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func envLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeFile(t, "devlink.json", `{
		"log": {"level": "debug"},
		"nats": {"urls": ["nats://a:4222", "nats://b:4222"], "reconnect_wait": "5s"},
		"connections": {
			"projector": {
				"type": "tcp",
				"dest": "10.0.0.5:4352",
				"receive_delimiters": "\r",
				"request_timeout": 1500
			}
		}
	}`)

	cfg, err := envLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unset fields keep their defaults")
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait.Duration())
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)

	want := ConnectionConfig{
		Type:              TypeTCP,
		Dest:              "10.0.0.5:4352",
		ReceiveDelimiters: strPtr("\r"),
		RequestTimeout:    Duration(1500 * time.Millisecond),
	}
	if diff := cmp.Diff(want, cfg.Connections["projector"]); diff != "" {
		t.Errorf("connection mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_LoadYAML(t *testing.T) {
	path := writeFile(t, "devlink.yaml", `
metrics:
  enabled: true
  port: 9100
connections:
  plc:
    type: udp
    source: 0.0.0.0:5000
    dest: 239.1.2.3:5000
    binary_start_stop_flags: [2, 3]
    timeout: 30s
  encoder:
    type: process
    command: [ffmpeg, "-i", "pipe:0"]
    env:
      LANG: C
    merge_error: true
    enabled: false
`)

	cfg, err := envLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9100, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	want := map[string]ConnectionConfig{
		"plc": {
			Type:                 TypeUDP,
			Source:               "0.0.0.0:5000",
			Dest:                 "239.1.2.3:5000",
			BinaryStartStopFlags: []int{2, 3},
			Timeout:              Duration(30 * time.Second),
		},
		"encoder": {
			Type:       TypeProcess,
			Command:    []string{"ffmpeg", "-i", "pipe:0"},
			Env:        map[string]string{"LANG": "C"},
			MergeError: true,
			Enabled:    boolPtr(false),
		},
	}
	if diff := cmp.Diff(want, cfg.Connections); diff != "" {
		t.Errorf("connections mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"plc"}, cfg.EnabledConnections())
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.json", `{
		"gateway": {"enabled": true, "port": 8081},
		"connections": {
			"projector": {"type": "tcp", "dest": "10.0.0.5:4352", "request_timeout": "2s"}
		}
	}`)
	site := writeFile(t, "site.yml", `
gateway:
  port: 8082
connections:
  projector:
    dest: 10.0.0.6:4352
  amp:
    type: tcp
    dest: 10.0.0.7:23
`)

	l := envLoader(nil)
	l.AddLayer(base)
	l.AddLayer(site)
	l.EnableValidation(true)

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, 8082, cfg.Gateway.Port)
	assert.Equal(t, "/ws", cfg.Gateway.Path)

	projector := cfg.Connections["projector"]
	assert.Equal(t, "10.0.0.6:4352", projector.Dest)
	assert.Equal(t, TypeTCP, projector.Type)
	assert.Equal(t, 2*time.Second, projector.RequestTimeout.Duration())
	assert.Equal(t, "10.0.0.7:23", cfg.Connections["amp"].Dest)
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeFile(t, "devlink.json", `{"log": {"level": "warn"}}`)

	l := envLoader(map[string]string{
		"DEVLINK_LOG_LEVEL":     "debug",
		"DEVLINK_NATS_URLS":     "nats://x:4222,nats://y:4222",
		"DEVLINK_NATS_TOKEN":    "tok",
		"DEVLINK_METRICS_PORT":  "9200",
		"DEVLINK_GATEWAY_PORT":  "",
		"DEVLINK_BRIDGE_PREFIX": "site1",
	})
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"nats://x:4222", "nats://y:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "tok", cfg.NATS.Token)
	assert.Equal(t, 9200, cfg.Metrics.Port)
	assert.Equal(t, 8080, cfg.Gateway.Port, "empty overrides are ignored")
	assert.Equal(t, "site1", cfg.Bridge.Prefix)
}

func TestLoader_EnvOverrideErrors(t *testing.T) {
	path := writeFile(t, "devlink.json", `{}`)

	_, err := envLoader(map[string]string{"DEVLINK_METRICS_PORT": "ninety"}).LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = envLoader(map[string]string{"DEVLINK_NATS_TOKEN": "a\x00b"}).LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null byte")
}

func TestLoader_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{
			name:    "unknown top-level field",
			file:    "a.json",
			content: `{"platform": {}}`,
			wantErr: "platform",
		},
		{
			name:    "unknown connection field",
			file:    "b.json",
			content: `{"connections": {"x": {"type": "tcp", "dest": "h:1", "retries": 3}}}`,
			wantErr: "retries",
		},
		{
			name:    "bad connection type",
			file:    "c.yaml",
			content: "connections:\n  x:\n    type: serial\n",
			wantErr: "connections.x.type",
		},
		{
			name:    "bad duration",
			file:    "d.json",
			content: `{"connections": {"x": {"type": "udp", "timeout": "soon"}}}`,
			wantErr: "timeout",
		},
		{
			name:    "flag out of range",
			file:    "e.json",
			content: `{"connections": {"x": {"type": "udp", "binary_start_stop_flags": [300]}}}`,
			wantErr: "binary_start_stop_flags",
		},
		{
			name:    "port out of range",
			file:    "f.json",
			content: `{"metrics": {"port": 70000}}`,
			wantErr: "metrics.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			_, err := envLoader(nil).LoadFile(path)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoader_ValidationEnabled(t *testing.T) {
	path := writeFile(t, "devlink.json", `{"connections": {"x": {"type": "tcp"}}}`)

	_, err := envLoader(nil).LoadFile(path)
	assert.NoError(t, err, "semantic validation is off by default")

	l := envLoader(nil)
	l.EnableValidation(true)
	_, err = l.LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dest is required")
}

func TestLoader_FileErrors(t *testing.T) {
	_, err := envLoader(nil).LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	txt := writeFile(t, "devlink.txt", `{}`)
	_, err = envLoader(nil).LoadFile(txt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only JSON or YAML")

	broken := writeFile(t, "broken.json", `{"log": `)
	_, err = envLoader(nil).LoadFile(broken)
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte("bridge:\n  enabled: true\n"), "yaml")
	require.NoError(t, err)
	assert.True(t, cfg.Bridge.Enabled)
	assert.Equal(t, "devlink", cfg.Bridge.Prefix)

	cfg, err = Parse([]byte(`{}`), "json")
	require.NoError(t, err)
	if diff := cmp.Diff(Defaults(), cfg); diff != "" {
		t.Errorf("empty document should decode to the defaults (-want +got):\n%s", diff)
	}

	_, err = Parse([]byte(`{}`), "toml")
	assert.Error(t, err)
}
