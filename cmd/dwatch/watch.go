package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/murugaratham/dwatch"
)

func createWatchCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &WatchFlags{}
	cmd := &cobra.Command{
		Use:   "watch [workspace]",
		Short: "Run dotnet watch for one project and keep the debugger attached",
		Long: `Run a foreground engine for a single project: start "dotnet watch",
attach the debug adapter to the application and reattach after every
restart. Project and launch profile questions are asked on this terminal.
Ctrl-C stops the task.

Examples:
  dwatch watch                              # current directory
  dwatch watch ./src --project=Api --launch-profile=https
  dwatch watch --listen=127.0.0.1:8079      # also serve the HTTP API`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := "."
			if len(args) == 1 {
				ws = args[0]
			}
			return runWatch(cmd.Context(), globalFlags.ConfigPath, ws, flags)
		},
	}
	cmd.Flags().StringVar(&flags.Project, "project", "", "project name, project file or folder")
	cmd.Flags().StringVar(&flags.LaunchProfile, "launch-profile", "", "launch profile from launchSettings.json")
	cmd.Flags().StringSliceVar(&flags.Args, "arg", nil, "extra argument for dotnet watch (repeatable)")
	cmd.Flags().StringSliceVar(&flags.Env, "env", nil, "KEY=VALUE for the task (repeatable)")
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "serve the HTTP API on this address")
	return cmd
}

func runWatch(ctx context.Context, configPath, workspace string, flags *WatchFlags) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	req, err := taskRequest(workspace, flags.Project, flags.LaunchProfile, flags.Args, flags.Env)
	if err != nil {
		return err
	}
	if len(cfg.Workspaces) == 0 {
		cfg.Workspaces = []string{req.Workspace}
	}

	ctx, stop := signal.NotifyContext(orBackground(ctx), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := cfg.Log.NewSlogger()
	eng, err := dwatch.New(cfg,
		dwatch.WithLogger(log),
		dwatch.WithPrompter(dwatch.NewConsolePrompter(os.Stdin, os.Stdout)),
		dwatch.WithoutAutostart(),
	)
	if err != nil {
		return err
	}

	var server *http.Server
	if flags.Listen != "" {
		if server, err = dwatch.NewHTTPServer(flags.Listen, cfg.Server.BasePath, eng, false); err != nil {
			return err
		}
		log.Info("HTTP API listening", "addr", flags.Listen)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(ctx) }()

	d := dwatch.Descriptor{
		Workspace:     req.Workspace,
		Project:       req.Project,
		LaunchProfile: req.LaunchProfile,
		Args:          req.Args,
		Env:           req.Env,
	}
	if err := eng.StartTask(ctx, d); err != nil && !errors.Is(err, dwatch.ErrAlreadyRunning) {
		stop()
		<-errCh
		return fmt.Errorf("start watch task: %w", err)
	}

	runErr := <-errCh
	if server != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(sctx)
	}
	return runErr
}
