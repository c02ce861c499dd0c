package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360/blinkrelay/component"
	"github.com/c360/blinkrelay/config"
	"github.com/c360/blinkrelay/errors"
	"github.com/c360/blinkrelay/health"
	"github.com/c360/blinkrelay/input/serial"
	"github.com/c360/blinkrelay/metric"
	"github.com/c360/blinkrelay/output/natspub"
	"github.com/c360/blinkrelay/output/websocket"
	"github.com/c360/blinkrelay/processor/relay"
)

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay (default when no subcommand is given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	addServeFlags(cmd, opts)
	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	logger, err := loggerFor(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if opts.Validate {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
		return nil
	}

	logger.Info("Starting blinkrelay",
		"version", Version,
		"build_time", BuildTime,
		"config_path", opts.ConfigPath)
	logger.Info("Configuration loaded", cfg.LogAttrs()...)

	a, err := newApp(cfg, logger, appDeps{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.run(ctx)
}

// loadConfig resolves defaults, the config file, the .env file, the
// environment and finally command-line flags, then validates the result.
func loadConfig(cmd *cobra.Command, opts *serveOptions) (*config.Config, error) {
	loader := config.NewLoader()
	if opts.ConfigPath != "" {
		loader.AddLayer(opts.ConfigPath)
	}
	if opts.EnvFile != "" {
		loader.AddDotEnv(opts.EnvFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := applyFlagOverrides(cmd, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// appDeps replaces the hardware and network edges, for tests.
type appDeps struct {
	Opener   serial.Opener
	NATSConn natspub.Conn
}

// app is the wired pipeline: serial input, relay, websocket hub and the
// optional NATS mirror and metrics endpoint.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	group    *component.Group

	input   *serial.Input
	relay   *relay.Relay
	ws      *websocket.Output
	mirror  *natspub.Output
	metrics *metric.Server
}

func newApp(cfg *config.Config, logger *slog.Logger, deps appDeps) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(Version),
		monitor:  health.NewMonitor(appName),
		group:    component.NewGroup(logger),
	}

	a.ws = websocket.NewOutput(websocket.Config{
		Port: cfg.Server.Port,
		Path: cfg.Server.Path,
		HubConfig: websocket.HubConfig{
			QueueSize:    cfg.Server.QueueSize,
			WriteTimeout: cfg.Server.WriteTimeout,
			PingInterval: cfg.Server.PingInterval,
			PongWait:     cfg.Server.PongWait,
		},
	}, websocket.Deps{MetricsRegistry: a.registry, Logger: logger})

	var err error
	a.relay, err = relay.New(relay.Config{
		DebounceWindow: cfg.Debounce.Window,
		ForwardRaw:     cfg.Relay.ForwardRaw,
	}, relay.Deps{Logger: logger, MetricsRegistry: a.registry})
	if err != nil {
		return nil, errors.Wrap(err, "app", "newApp", "create relay")
	}
	a.relay.AddSink("websocket", a.ws)

	if cfg.NATS.URL != "" {
		ncfg := natspub.DefaultConfig()
		ncfg.URL = cfg.NATS.URL
		ncfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		ncfg.Token = cfg.NATS.Token
		ncfg.MaxReconnects = cfg.NATS.MaxReconnects
		ncfg.ReconnectWait = cfg.NATS.ReconnectWait
		ncfg.PingInterval = cfg.NATS.PingInterval
		ncfg.DialTimeout = cfg.NATS.DialTimeout
		ncfg.DrainTimeout = cfg.NATS.DrainTimeout
		ncfg.MaxBackoff = cfg.NATS.MaxBackoff
		ncfg.CircuitThreshold = cfg.NATS.CircuitThreshold
		a.mirror, err = natspub.NewOutput(ncfg, natspub.Deps{
			Conn:            deps.NATSConn,
			Logger:          logger,
			MetricsRegistry: a.registry,
		})
		if err != nil {
			return nil, errors.Wrap(err, "app", "newApp", "create NATS mirror")
		}
		a.relay.AddSink("nats", a.mirror)
	}

	scfg := serial.DefaultConfig()
	scfg.Device = cfg.Serial.Device
	scfg.BaudRate = cfg.Serial.BaudRate
	scfg.Reconnect = serial.ReconnectConfig{
		MaxAttempts:  cfg.Serial.Reconnect.MaxAttempts,
		InitialDelay: cfg.Serial.Reconnect.InitialDelay,
		MaxDelay:     cfg.Serial.Reconnect.MaxDelay,
	}
	a.input, err = serial.NewInput(scfg, serial.Deps{
		Opener:          deps.Opener,
		MetricsRegistry: a.registry,
		Logger:          logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "app", "newApp", "create serial input")
	}

	// The server binds first so a taken port fails startup before the
	// device is opened.
	a.group.Add(a.ws)
	a.monitor.RegisterComponent(a.ws, false)
	if a.mirror != nil {
		a.group.Add(a.mirror)
		a.monitor.RegisterComponent(a.mirror, true)
	}
	a.group.Add(a.input)
	a.monitor.RegisterComponent(a.input, true)

	if cfg.Metrics.Port != 0 {
		a.metrics = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry, a.monitor)
	}
	return a, nil
}

// run starts everything and blocks until ctx is done or a server fails.
// Only startup failures and server errors are returned.
func (a *app) run(ctx context.Context) error {
	timeout := a.cfg.ShutdownTimeout

	if a.metrics != nil {
		if err := a.metrics.Listen(); err != nil {
			return err
		}
		a.logger.Info("Metrics endpoint listening", "addr", a.metrics.Addr(), "path", a.cfg.Metrics.Path)
	}

	if err := a.group.Start(ctx, timeout); err != nil {
		if a.metrics != nil {
			_ = a.metrics.Stop(timeout)
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.relay.Run(gctx, a.input.Lines())
	})
	if a.metrics != nil {
		g.Go(a.metrics.Serve)
		g.Go(func() error {
			<-gctx.Done()
			return a.metrics.Stop(timeout)
		})
	}

	a.logger.Info("Pipeline started",
		"subscribers_addr", a.ws.Addr(),
		"device", a.cfg.Serial.Device,
		"nats_mirror", a.mirror != nil)

	<-gctx.Done()
	a.logger.Info("Shutting down", "timeout", timeout)

	stopErr := a.group.Stop(timeout)
	runErr := g.Wait()

	st := a.relay.Stats()
	a.logger.Info("Relay stopped",
		"lines", st.Lines,
		"blinks", st.Blinks,
		"duplicates", st.Duplicates,
		"last_seq", st.LastSeq)

	return errors.Join(runErr, stopErr)
}
