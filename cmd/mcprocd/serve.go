package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mcprocd/mcprocd/internal/audit"
	"github.com/mcprocd/mcprocd/internal/config"
	"github.com/mcprocd/mcprocd/internal/env"
	"github.com/mcprocd/mcprocd/internal/eventbus"
	"github.com/mcprocd/mcprocd/internal/logger"
	"github.com/mcprocd/mcprocd/internal/loghub"
	"github.com/mcprocd/mcprocd/internal/metrics"
	"github.com/mcprocd/mcprocd/internal/paths"
	"github.com/mcprocd/mcprocd/internal/registry"
	"github.com/mcprocd/mcprocd/internal/rpcserver"
	"github.com/mcprocd/mcprocd/internal/scheduler"
	"github.com/mcprocd/mcprocd/internal/supervisor"
)

func newServeCmd(configPath *string) *cobra.Command {
	var daemonize bool
	var console bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground, serving the control socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.StateRoot == "" {
				cfg.StateRoot = paths.StateRoot()
			}
			if cfg.RuntimeRoot == "" {
				cfg.RuntimeRoot = paths.RuntimeRoot()
			}

			if daemonize {
				if err := daemonizeSelf(cfg.RuntimeRoot); err != nil {
					return err
				}
				// The parent process exits inside daemonizeSelf and the
				// re-exec'd child runs without --daemonize, so this point is
				// only reached when daemonizeSelf returns without re-exec'ing.
			}

			return runDaemon(cfg, console)
		},
	}
	cmd.Flags().BoolVar(&daemonize, "daemonize", false, "detach into the background")
	cmd.Flags().BoolVar(&console, "console", false, "mirror daemon log to stderr in addition to the log file")
	return cmd
}

func runDaemon(cfg config.Config, console bool) error {
	if err := paths.EnsureRuntimeRoot(cfg.RuntimeRoot); err != nil {
		return fmt.Errorf("ensure runtime root: %w", err)
	}
	if err := os.MkdirAll(cfg.StateRoot, 0o750); err != nil {
		return fmt.Errorf("ensure state root: %w", err)
	}

	var consoleW *os.File
	if console {
		consoleW = os.Stderr
	}
	logCfg := logger.Config{Path: paths.DaemonLogPath(cfg.StateRoot), Level: slog.LevelInfo}
	if consoleW != nil {
		logCfg.Console = consoleW
	}
	log := logger.New(logCfg).With("instance", uuid.New().String())
	slog.SetDefault(log)

	pidPath := paths.PIDFilePath(cfg.RuntimeRoot)
	if err := paths.WritePIDFile(pidPath, os.Getpid()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = paths.RemovePIDFile(pidPath) }()

	reg := registry.New()
	hub := loghub.New(cfg.RingBufferSize, cfg.SubscriberQueueSize, cfg.MaxLogSizeMB)
	bus := eventbus.New(cfg.SubscriberQueueSize)
	envM := env.New()

	var sink audit.Sink = audit.NoopSink{}
	if cfg.Audit.Enabled {
		s, err := audit.New(cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			log.Error("audit sink unavailable, falling back to noop", "error", err)
		} else {
			sink = s
		}
	}
	defer func() { _ = sink.Close() }()

	sv := supervisor.New(reg, hub, bus, envM, cfg.StateRoot, Version, sink)

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("metrics registration failed", "error", err)
		} else if cfg.Metrics.Listen != "" {
			go serveMetrics(cfg.Metrics.Listen, log)
		}
	}

	sched := scheduler.New(
		scheduler.Task{
			Name:           "retention-sweep",
			Interval:       24 * time.Hour,
			RunImmediately: true,
			Action: func(ctx context.Context) {
				sweepRetention(reg, cfg, log)
			},
		},
		scheduler.Task{
			Name:     "port-sample",
			Interval: durationOr(cfg.PortSampleInterval, 5*time.Second),
			Action:   sv.SamplePorts,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	defer sched.Stop()

	socketPath := paths.SocketPath(cfg.RuntimeRoot)
	srv := rpcserver.New(sv, hub, bus, reg, socketPath, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig.String())
		cancel()
		_ = srv.Close()
	}()

	log.Info("mcprocd serving", "socket", socketPath, "state_root", cfg.StateRoot, "pid", os.Getpid())
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	return nil
}

func sweepRetention(reg *registry.Registry, cfg config.Config, log *slog.Logger) {
	open := make(map[string]bool)
	for _, rec := range reg.List("", nil) {
		if !rec.State.Terminal() {
			open[rec.LogFilePath] = true
		}
	}
	removed, err := loghub.Sweep(filepath.Join(cfg.StateRoot, "log"), time.Duration(cfg.RetentionDays)*24*time.Hour, cfg.MaxLogSizeMB, open)
	if err != nil {
		log.Warn("retention sweep failed", "error", err)
		return
	}
	if len(removed) > 0 {
		log.Info("retention sweep removed logs", "count", len(removed))
	}
}

func serveMetrics(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec // internal metrics endpoint
		log.Error("metrics server stopped", "error", err)
	}
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
