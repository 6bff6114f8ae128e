// Package main implements the entry point for SensorKit, a derived boolean
// sensor engine driven by upstream state changes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/sensorkit/config"
	"github.com/c360/sensorkit/engine"
	"github.com/c360/sensorkit/metric"
	"github.com/c360/sensorkit/natsclient"
	"github.com/c360/sensorkit/sensor"
	"github.com/c360/sensorkit/statestore"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "sensorkit"
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

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting SensorKit",
		"version", Version,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.NewLoader().Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid",
			"sensors", len(cfg.Sensors), "store", cfg.Store.Backend)
		return nil
	}

	ctx := context.Background()
	return runEngine(ctx, cfg, cliCfg)
}

// runEngine wires infrastructure, starts the engine and blocks until a
// shutdown signal arrives
func runEngine(ctx context.Context, cfg *config.Config, cliCfg *CLIConfig) error {
	var registry *metric.MetricsRegistry
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		registry = metric.NewMetricsRegistry()
		metricsServer = metric.NewServer(cfg.Metrics.Addr, "/metrics", registry)
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		slog.Info("Metrics server starting", "addr", cfg.Metrics.Addr)
	}

	client, store, pub, err := setupStoreAndPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	if client != nil {
		defer func() { _ = client.Close() }()
	}

	opts := []engine.Option{engine.WithMetricsRegistry(registry)}
	if client != nil {
		opts = append(opts, engine.WithControlClient(client))
	}

	eng := engine.NewEngine(cfg, store, pub, opts...)
	if err := eng.Initialize(); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := eng.Start(runCtx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	// Infrastructure is up and the store is reachable: open the gate.
	eng.NotifySystemStarted()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutting down", "signal", sig.String())

	if err := eng.Stop(cliCfg.ShutdownTimeout); err != nil {
		slog.Warn("Engine stop incomplete", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(cliCfg.ShutdownTimeout); err != nil {
			slog.Warn("Metrics server stop failed", "error", err)
		}
	}
	return nil
}

// setupStoreAndPublisher builds the configured state store backend and the
// matching snapshot publisher
func setupStoreAndPublisher(ctx context.Context, cfg *config.Config) (
	*natsclient.Client, statestore.Store, sensor.Publisher, error) {

	if cfg.Store.Backend == config.StoreBackendMemory {
		slog.Info("Using in-memory state store")
		return nil, statestore.NewMemoryStore(), engine.NewLogPublisher(), nil
	}

	clientOpts := []natsclient.ClientOption{
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
	}
	if cfg.NATS.ReconnectWait > 0 {
		clientOpts = append(clientOpts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Token != "" {
		clientOpts = append(clientOpts, natsclient.WithToken(cfg.NATS.Token))
	} else if cfg.NATS.Username != "" {
		clientOpts = append(clientOpts, natsclient.WithUserInfo(cfg.NATS.Username, cfg.NATS.Password))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, clientOpts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	bucket, err := client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Store.Bucket,
		Description: "SensorKit upstream state",
		History:     1,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("open state bucket: %w", err)
	}

	store := statestore.NewKVStore(bucket)
	pub := engine.NewSnapshotPublisher(client, cfg.Publish.SubjectPrefix)
	return client, store, pub, nil
}
