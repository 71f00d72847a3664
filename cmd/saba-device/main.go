// Package main implements the saba-device daemon: a device runtime exposing
// the built-in mock tools and ports over MQTT, NATS or an in-process broker,
// with the HTTP gateway for local control, health, metrics and assets.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kawaiiTaiga/project-SABA/builtin"
	"github.com/kawaiiTaiga/project-SABA/config"
	"github.com/kawaiiTaiga/project-SABA/device"
	"github.com/kawaiiTaiga/project-SABA/gateway"
	"github.com/kawaiiTaiga/project-SABA/health"
	"github.com/kawaiiTaiga/project-SABA/metric"
	"github.com/kawaiiTaiga/project-SABA/port"
	"github.com/kawaiiTaiga/project-SABA/tool"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "saba-device"
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

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cliCfg, err := parseFlags(args, stderr)
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		return nil
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}
	deviceID := cfg.ResolveDeviceID()

	logger := setupLogger(stdout, cfg.Log.Level, cfg.Log.Format, deviceID)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cfg.String())
		return nil
	}

	logger.Info("Starting saba device",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"transport", cfg.Transport.Kind)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := assemble(cfg, deviceID, logger, cancel)
	if err != nil {
		return err
	}
	return app.run(ctx, cliCfg.ShutdownTimeout)
}

// initializeConfiguration loads, overrides and validates configuration
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	applyFlags(cliCfg, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// application is the wired device process.
type application struct {
	logger  *slog.Logger
	runtime *device.Runtime
	server  *gateway.Server
	builtin *builtin.Set
}

// assemble wires metrics, health, tools, ports, the gateway and the device
// runtime. reset is called by factory_reset to end the process; it must not
// block.
func assemble(cfg *config.Config, deviceID string, logger *slog.Logger, reset context.CancelFunc) (*application, error) {
	client, err := buildClient(cfg, deviceID, logger)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	metricsRegistry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor(metricsRegistry.CoreMetrics())

	tools := tool.NewRegistry(
		tool.WithLogger(logger),
		tool.WithMetrics(metricsRegistry.CoreMetrics()),
		tool.WithArgValidation(cfg.Validation.ToolArgs),
	)
	ports := port.NewRegistry(
		port.WithLogger(logger),
		port.WithMetrics(metricsRegistry.CoreMetrics()),
	)

	var assets *gateway.AssetStore
	var sink builtin.AssetSink
	if cfg.HTTP.Enabled {
		assets = gateway.NewAssetStore(gateway.DefaultMaxAssetCount, gateway.DefaultMaxAssetBytes)
		sink = assets
	}
	set, err := builtin.Install(tools, ports, sink)
	if err != nil {
		return nil, fmt.Errorf("install built-in tools: %w", err)
	}

	app := &application{logger: logger, builtin: set}

	rtCfg := device.DefaultConfig(deviceID)
	rtCfg.TopicPrefix = cfg.Device.TopicPrefix
	rtCfg.TickInterval = cfg.Intervals.Tick.D()
	rtCfg.StatusInterval = cfg.Intervals.Status.D()
	rtCfg.AnnounceInterval = cfg.Intervals.Announce.D()
	rtCfg.ReconnectInterval = cfg.Intervals.Reconnect.D()
	rtCfg.ConnectTimeout = cfg.Transport.ConnectTimeout.D()
	rtCfg.QueueCapacity = cfg.Queue.Capacity
	rtCfg.MaxPayload = cfg.Queue.MaxPayload

	// The server is created after the runtime, so the base URL is resolved
	// lazily on every announce and emit.
	baseURL := func() string {
		if cfg.Device.HTTPBase != "" {
			return cfg.Device.HTTPBase
		}
		if app.server != nil {
			return app.server.BaseURL()
		}
		return ""
	}

	app.runtime, err = device.New(rtCfg, client, tools, ports,
		device.WithLogger(logger),
		device.WithMetrics(metricsRegistry),
		device.WithHealthMonitor(monitor),
		device.WithBaseURL(baseURL),
		device.WithResetHook(func(context.Context) error {
			logger.Warn("Factory reset requested, shutting down")
			reset()
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create device runtime: %w", err)
	}

	if cfg.HTTP.Enabled {
		app.server, err = gateway.New(gateway.Config{
			Addr:          cfg.HTTP.Addr,
			AdvertiseHost: cfg.HTTP.AdvertiseHost,
			TLS:           cfg.HTTP.TLS,
		}, app.runtime,
			gateway.WithLogger(logger),
			gateway.WithMetricsHandler(metricsRegistry.Handler()),
			gateway.WithAssetStore(assets),
			gateway.WithHandler("/", set.Snapshot),
		)
		if err != nil {
			return nil, fmt.Errorf("create gateway: %w", err)
		}
	}

	return app, nil
}

// run starts the gateway and the runtime and blocks until ctx is done or
// either of them fails, then shuts both down.
func (a *application) run(ctx context.Context, shutdownTimeout time.Duration) error {
	if a.server != nil {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("start gateway: %w", err)
		}
		a.logger.Info("Gateway listening", "addr", a.server.Addr(), "base_url", a.server.BaseURL())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.runtime.Start(gctx); err != nil {
			return fmt.Errorf("start device runtime: %w", err)
		}
		a.logger.Info("Saba device started")

		<-gctx.Done()
		a.logger.Info("Shutting down device runtime")
		if err := a.runtime.Stop(shutdownTimeout); err != nil {
			a.logger.Error("Error stopping device runtime", "error", err)
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	if a.server != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-a.server.Done():
				if err := a.server.Err(); err != nil {
					return fmt.Errorf("gateway stopped: %w", err)
				}
			}
			a.stopServer(shutdownTimeout)
			return nil
		})
	}

	err := g.Wait()
	a.stopServer(shutdownTimeout)
	if err != nil {
		return err
	}
	a.logger.Info("Saba device shutdown complete")
	return nil
}

func (a *application) stopServer(timeout time.Duration) {
	if a.server == nil {
		return
	}
	if err := a.server.Stop(timeout); err != nil {
		a.logger.Error("Error stopping gateway", "error", err)
	}
}
