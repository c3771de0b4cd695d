// Package main runs devlink: it loads the connection configuration, keeps
// every configured device connection alive and optionally exposes the
// traffic on NATS and a WebSocket tap.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360/devlink/bridge"
	"github.com/c360/devlink/config"
	"github.com/c360/devlink/gateway/websocket"
	"github.com/c360/devlink/health"
	"github.com/c360/devlink/manager"
	"github.com/c360/devlink/metric"
	"github.com/c360/devlink/natsclient"
	"github.com/c360/devlink/pkg/retry"
	"github.com/c360/devlink/pkg/tlsutil"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "devlink"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// app holds everything started by run, in start order
type app struct {
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	manager  *manager.Manager
	metrics  *metric.Server
	nats     *natsclient.Client
	bridge   *bridge.Bridge
	gateway  *websocket.Server
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		return nil
	}

	cfg, err := loadConfig(cliCfg.ConfigPaths)
	if err != nil {
		return err
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if cliCfg.LogLevel != "" {
		level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		format = cliCfg.LogFormat
	}
	logger := setupLogger(level, format)
	slog.SetDefault(logger)

	slog.Info("Starting devlink",
		"version", Version,
		"build_time", BuildTime,
		"config", cliCfg.ConfigPaths.String(),
		"connections", len(cfg.EnabledConnections()))

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	a := &app{
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
	}
	return a.runWithSignalHandling(context.Background(), cfg, cliCfg.ShutdownTimeout)
}

// loadConfig merges the layers over the defaults and validates the result
func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range paths {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (a *app) runWithSignalHandling(ctx context.Context, cfg *config.Config, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	startErr := a.start(signalCtx, cfg)
	if startErr == nil {
		slog.Info("devlink started")
		<-signalCtx.Done()
		slog.Info("Received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	a.shutdown(shutdownCtx, shutdownTimeout)

	if startErr != nil {
		return startErr
	}
	slog.Info("devlink shutdown complete")
	return nil
}

func (a *app) start(ctx context.Context, cfg *config.Config) error {
	mgr, err := manager.New(cfg, manager.Deps{
		Registry: a.registry,
		Monitor:  a.monitor,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}
	a.manager = mgr

	if cfg.Metrics.Enabled {
		a.metrics = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry, func() (any, bool) {
			st := mgr.Health()
			return st, !st.IsUnhealthy()
		})
		if err := a.metrics.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		slog.Info("Metrics server listening", "address", a.metrics.Address())
	}

	if cfg.Bridge.Enabled {
		if err := a.startBridge(ctx, cfg); err != nil {
			return err
		}
	}

	if cfg.Gateway.Enabled {
		serverTLS, err := tlsutil.LoadServerConfig(cfg.Gateway.TLS)
		if err != nil {
			return fmt.Errorf("load gateway TLS: %w", err)
		}
		a.gateway = websocket.New(mgr, websocket.Config{Port: cfg.Gateway.Port, Path: cfg.Gateway.Path, TLS: serverTLS},
			websocket.WithLogger(a.logger), websocket.WithMetrics(a.registry))
		if err := a.gateway.Start(ctx); err != nil {
			return fmt.Errorf("start websocket gateway: %w", err)
		}
	}

	// Subscribers are attached before the first connect so no event is missed.
	if err := mgr.StartAll(ctx); err != nil {
		return fmt.Errorf("start connections: %w", err)
	}
	return nil
}

func (a *app) startBridge(ctx context.Context, cfg *config.Config) error {
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithLogger(a.logger),
		natsclient.WithMetrics(a.registry),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				a.monitor.UpdateHealthy("nats", "connected")
			} else {
				a.monitor.UpdateUnhealthy("nats", "disconnected")
			}
		}),
	}
	if wait := cfg.NATS.ReconnectWait.Duration(); wait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(wait))
	}
	switch {
	case cfg.NATS.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	case cfg.NATS.Username != "":
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.TLSEnabled() {
		opts = append(opts, natsclient.WithTLS(cfg.NATS.TLSCertFile, cfg.NATS.TLSKeyFile, cfg.NATS.TLSCAFile))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	a.nats = client

	slog.Info("Connecting to NATS", "urls", cfg.NATS.URLs)
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		err := client.Connect(ctx)
		if stderrors.Is(err, natsclient.ErrCircuitOpen) {
			return retry.NonRetryable(err)
		}
		if err != nil {
			slog.Warn("NATS connect attempt failed", "error", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	a.monitor.UpdateHealthy("nats", "connected")

	b, err := bridge.New(client, a.manager, bridge.Config{Prefix: cfg.Bridge.Prefix},
		bridge.WithMetrics(a.registry), bridge.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	a.bridge = b
	return nil
}

// shutdown stops outer surfaces first so no command reaches a closing
// connection, then the connections, then NATS and metrics.
func (a *app) shutdown(ctx context.Context, timeout time.Duration) {
	if a.gateway != nil {
		if err := a.gateway.Stop(timeout); err != nil {
			slog.Warn("Stopping websocket gateway", "error", err)
		}
	}
	if a.bridge != nil {
		a.bridge.Stop()
	}
	if a.manager != nil {
		if err := a.manager.CloseAll(ctx); err != nil {
			slog.Error("Closing connections", "error", err)
		}
	}
	if a.nats != nil {
		if err := a.nats.Close(ctx); err != nil {
			slog.Warn("Closing NATS client", "error", err)
		}
	}
	if a.metrics != nil {
		if err := a.metrics.Stop(); err != nil {
			slog.Warn("Stopping metrics server", "error", err)
		}
	}
}
