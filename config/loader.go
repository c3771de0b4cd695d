package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DEVLINK"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables semantic validation after loading.
// Schema validation always runs.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load reads every layer, merges them over the defaults, checks the result
// against the schema, then applies environment overrides.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Defaults())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged = deepMergeMaps(merged, raw)
	}

	cfg, err := decode(merged)
	if err != nil {
		return nil, err
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Parse decodes a single document over the defaults. Format is "json" or
// "yaml".
func Parse(data []byte, format string) (*Config, error) {
	raw, err := parseRaw(data, format)
	if err != nil {
		return nil, err
	}
	base, err := toMap(Defaults())
	if err != nil {
		return nil, err
	}
	return decode(deepMergeMaps(base, raw))
}

// Defaults returns the configuration used when a file leaves a field out
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Name:          "devlink",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Bridge: BridgeConfig{
			Prefix: "devlink",
		},
		Gateway: GatewayConfig{
			Port: 8080,
			Path: "/ws",
		},
		Workers: WorkerConfig{
			Workers:   4,
			QueueSize: 256,
		},
	}
}

func loadRaw(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	return parseRaw(data, formatOf(path))
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

func parseRaw(data []byte, format string) (map[string]any, error) {
	var raw map[string]any

	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, invalid(fmt.Sprintf("yaml: %v", err))
		}
		normalized, ok := normalizeYAML(raw).(map[string]any)
		if !ok {
			return nil, invalid("yaml document is not a mapping")
		}
		raw = normalized
	case "json":
		if err := checkNesting(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, invalid(fmt.Sprintf("json: %v", err))
		}
	default:
		return nil, invalid(fmt.Sprintf("unknown config format %q", format))
	}

	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// normalizeYAML turns any map[any]any left by the YAML decoder into
// map[string]any so the document can be re-encoded as JSON.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decode(merged map[string]any) (*Config, error) {
	document, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	if err := validateSchema(document); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(document, &cfg); err != nil {
		return nil, invalid(err.Error())
	}
	return &cfg, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return "", false, nil
		}
		if err := checkEnvValue(key, val); err != nil {
			return "", false, err
		}
		return val, true, nil
	}

	strs := []struct {
		name   string
		target *string
	}{
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
		{"NATS_USERNAME", &cfg.NATS.Username},
		{"NATS_PASSWORD", &cfg.NATS.Password},
		{"NATS_TOKEN", &cfg.NATS.Token},
		{"BRIDGE_PREFIX", &cfg.Bridge.Prefix},
	}
	for _, s := range strs {
		val, ok, err := get(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.target = val
		}
	}

	val, ok, err := get("NATS_URLS")
	if err != nil {
		return err
	}
	if ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}

	ports := []struct {
		name   string
		target *int
	}{
		{"METRICS_PORT", &cfg.Metrics.Port},
		{"GATEWAY_PORT", &cfg.Gateway.Port},
	}
	for _, p := range ports {
		val, ok, err := get(p.name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return invalid(fmt.Sprintf("%s_%s: %v", l.envPrefix, p.name, err))
		}
		*p.target = n
	}

	return nil
}
