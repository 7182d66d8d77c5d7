package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/murugaratham/dwatch"
	"github.com/murugaratham/dwatch/internal/pidfile"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the dwatch daemon",
		Long: `Start the daemon: autostart configured projects, scan for their
application processes, attach the debug adapter and serve the HTTP API.

Examples:
  dwatch serve                     # defaults, no config file
  dwatch serve dwatch.toml         # start with specific config file
  dwatch serve --interactive       # answer project and reattach prompts on this terminal
  dwatch serve --daemonize --pidfile=/tmp/dwatch.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), path, serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon pid to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	cmd.Flags().BoolVar(&serveFlags.Interactive, "interactive", false, "prompt on stdin instead of declining")
	return cmd
}

func loadConfig(path string) (*dwatch.Config, error) {
	if path == "" {
		return dwatch.DefaultConfig(), nil
	}
	cfg, err := dwatch.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, path string, flags *ServeFlags) error {
	if flags.PidFile != "" {
		if pid, alive, err := pidfile.Alive(flags.PidFile); err == nil && alive && pid != os.Getpid() {
			return fmt.Errorf("dwatch daemon already running with pid %d (%s)", pid, flags.PidFile)
		}
	}
	if flags.Daemonize {
		return daemonize(flags.LogFile)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := cfg.Log.NewSlogger()
	slog.SetDefault(log)

	opts := []dwatch.Option{dwatch.WithLogger(log)}
	if flags.Interactive {
		opts = append(opts, dwatch.WithPrompter(dwatch.NewConsolePrompter(os.Stdin, os.Stdout)))
	}
	eng, err := dwatch.New(cfg, opts...)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		setupMetrics(cfg, eng, log)
	}
	if path != "" {
		if err := dwatch.WatchConfig(path, log, eng.Reload); err != nil {
			log.Warn("config watch disabled", "error", err)
		}
	}

	server, err := dwatch.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, eng, cfg.Metrics.Enabled)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	log.Info("dwatch daemon listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath)
	if flags.PidFile != "" {
		if err := pidfile.Write(flags.PidFile, os.Getpid()); err != nil {
			log.Warn("pid file not written", "path", flags.PidFile, "error", err)
		}
		defer func() { _ = pidfile.Remove(flags.PidFile) }()
	}

	runErr := eng.Run(ctx)
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("http shutdown", "error", err)
	}
	return runErr
}

func setupMetrics(cfg *dwatch.Config, eng *dwatch.Engine, log *slog.Logger) {
	if err := dwatch.RegisterMetricsDefault(); err != nil {
		log.Warn("failed to register metrics", "error", err)
		return
	}
	if err := dwatch.RegisterSessionMetrics(prometheus.DefaultRegisterer, eng); err != nil {
		log.Warn("failed to register session metrics", "error", err)
	}
	if cfg.Metrics.Listen != "" && cfg.Metrics.Listen != cfg.Server.Listen {
		go func() {
			if err := dwatch.ServeMetrics(cfg.Metrics.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server error", "error", err)
			}
		}()
	}
}
