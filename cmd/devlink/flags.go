package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     layerList
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// layerList collects repeated --config flags. Later files override earlier ones.
type layerList []string

func (l *layerList) String() string { return strings.Join(*l, ",") }

func (l *layerList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.Var(&cfg.ConfigPaths, "config",
		"Configuration file, repeat to layer (env: DEVLINK_CONFIG, comma separated)")
	fs.Var(&cfg.ConfigPaths, "c", "Shorthand for --config")

	// Empty means the value from the configuration file
	fs.StringVar(&cfg.LogLevel, "log-level",
		env("DEVLINK_LOG_LEVEL", "", asString),
		"Log level: debug, info, warn, error (env: DEVLINK_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		env("DEVLINK_LOG_FORMAT", "", asString),
		"Log format: json, text (env: DEVLINK_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		env("DEVLINK_DEBUG", false, strconv.ParseBool),
		"Enable debug logging (env: DEVLINK_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		env("DEVLINK_SHUTDOWN_TIMEOUT", 10*time.Second, time.ParseDuration),
		"Graceful shutdown timeout (env: DEVLINK_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if len(cfg.ConfigPaths) == 0 {
		for _, p := range strings.Split(env("DEVLINK_CONFIG", "configs/devlink.yaml", asString), ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.ConfigPaths = append(cfg.ConfigPaths, p)
			}
		}
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.ShowHelp {
		fs.Usage()
	}

	return cfg, nil
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
)

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	for _, path := range cfg.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}

	switch {
	case cfg.LogLevel != "" && !slices.Contains(logLevels, cfg.LogLevel):
		return fmt.Errorf("invalid log level %q, want one of %s", cfg.LogLevel, strings.Join(logLevels, ", "))
	case cfg.LogFormat != "" && !slices.Contains(logFormats, cfg.LogFormat):
		return fmt.Errorf("invalid log format %q, want one of %s", cfg.LogFormat, strings.Join(logFormats, ", "))
	case cfg.ShutdownTimeout <= 0:
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - managed device connections

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Base file with a site override
  %s --config=configs/devlink.yaml --config=/etc/devlink/site.yaml

  # Debug logging as text
  %s --log-level=debug --log-format=text

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// env returns the parsed value of key, or def when it is unset or does not
// parse.
func env[T any](key string, def T, parse func(string) (T, error)) T {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return def
	}
	if parsed, err := parse(value); err == nil {
		return parsed
	}
	return def
}

func asString(s string) (string, error) { return s, nil }
