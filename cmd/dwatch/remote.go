package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/murugaratham/dwatch/pkg/client"
)

const defaultAPIURL = client.DefaultBaseURL

// apiClient resolves the daemon URL from --api-url, then the [server]
// section of --config, then the default.
func apiClient(flags *GlobalFlags) (*client.Client, error) {
	url := flags.APIUrl
	if url == "" && flags.ConfigPath != "" {
		cfg, err := loadConfig(flags.ConfigPath)
		if err != nil {
			return nil, err
		}
		url = "http://" + cfg.Server.Listen + sanitizeBase(cfg.Server.BasePath)
	}
	if url == "" {
		url = defaultAPIURL
	}
	return client.New(client.Config{BaseURL: strings.TrimRight(url, "/"), Timeout: flags.APITimeout}), nil
}

func sanitizeBase(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

func parsePID(arg string) (int, error) {
	pid, err := strconv.Atoi(arg)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", arg)
	}
	return pid, nil
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show watch tasks, debug sessions and scanner state of the daemon",
		Long: `Show the daemon's watch tasks, debug sessions, disconnected pids and
scanner state.

Examples:
  dwatch status
  dwatch status --processes        # include debug-build processes
  dwatch status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(globalFlags)
			if err != nil {
				return err
			}
			return runStatus(cmd.Context(), c, flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&flags.Processes, "processes", false, "also list debug-build processes")
	return cmd
}

func runStatus(ctx context.Context, c *client.Client, flags *StatusFlags, w io.Writer) error {
	ctx = orBackground(ctx)
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	var procs []client.Process
	if flags.Processes {
		if procs, err = c.Processes(ctx); err != nil {
			return err
		}
	}
	if flags.JSON {
		if flags.Processes {
			return writeJSON(w, map[string]any{"status": st, "processes": procs})
		}
		return writeJSON(w, st)
	}
	renderStatus(w, st)
	if flags.Processes {
		renderProcesses(w, procs)
	}
	return nil
}

func createAttachCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &AttachFlags{}
	cmd := &cobra.Command{
		Use:   "attach <pid>",
		Short: "Attach the debugger to a running debug build",
		Long: `Attach the debugger to pid. The process must belong to a watch task of
the daemon, or pass --external to adopt its dotnet watch parent so later
restarts are offered for reattach.

Examples:
  dwatch attach 4242
  dwatch attach 4242 --external`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			c, err := apiClient(globalFlags)
			if err != nil {
				return err
			}
			if err := c.Attach(orBackground(cmd.Context()), pid, flags.External); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "attach requested for pid %d\n", pid)
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.External, "external", false, "adopt a watch process not started by the daemon")
	return cmd
}

func createTerminateCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "terminate <pid>",
		Short: "Stop debugging pid and stop its watch task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			c, err := apiClient(globalFlags)
			if err != nil {
				return err
			}
			if err := c.Terminate(orBackground(cmd.Context()), pid); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "terminated %d\n", pid)
			return nil
		},
	}
}

func createScanCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Start or stop the attach scanner",
	}
	run := func(start bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient(globalFlags)
			if err != nil {
				return err
			}
			ctx := orBackground(cmd.Context())
			if start {
				err = c.StartScan(ctx)
			} else {
				err = c.StopScan(ctx)
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "scan %s\n", map[bool]string{true: "started", false: "stopped"}[start])
			return nil
		}
	}
	cmd.AddCommand(
		&cobra.Command{Use: "start", Short: "Start scanning", Args: cobra.NoArgs, RunE: run(true)},
		&cobra.Command{Use: "stop", Short: "Stop scanning", Args: cobra.NoArgs, RunE: run(false)},
	)
	return cmd
}

func createStartCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start <workspace>",
		Short: "Ask the daemon to start a watch task",
		Long: `Ask the daemon to run "dotnet watch" for a project in workspace.

Examples:
  dwatch start /src/shop --project=Api
  dwatch start /src/shop --project=Api --launch-profile=https --env=FEATURE_X=1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(globalFlags)
			if err != nil {
				return err
			}
			req, err := taskRequest(args[0], flags.Project, flags.LaunchProfile, flags.Args, flags.Env)
			if err != nil {
				return err
			}
			if err := c.StartTask(orBackground(cmd.Context()), req); err != nil {
				if client.IsConflict(err) {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "task already started")
					return nil
				}
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "watch task started in %s\n", req.Workspace)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Project, "project", "", "project name, project file or folder")
	cmd.Flags().StringVar(&flags.LaunchProfile, "launch-profile", "", "launch profile from launchSettings.json")
	cmd.Flags().StringSliceVar(&flags.Args, "arg", nil, "extra argument for dotnet watch (repeatable)")
	cmd.Flags().StringSliceVar(&flags.Env, "env", nil, "KEY=VALUE for the task (repeatable)")
	return cmd
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
