package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createWatchCommand(globalFlags),
		createPSCommand(globalFlags),
		createStatusCommand(globalFlags),
		createAttachCommand(globalFlags),
		createTerminateCommand(globalFlags),
		createScanCommand(globalFlags),
		createStartCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "dwatch",
		Short: "Keep a debugger attached to dotnet watch applications",
		Long: `dwatch launches "dotnet watch" for your projects, finds the application
processes they spawn and attaches a debug adapter to each one, reattaching
after every hot-reload restart.

Examples:
  dwatch serve --config=dwatch.toml        # run the daemon
  dwatch watch ./src --project=Api         # foreground engine for one project
  dwatch status                            # tasks and sessions of the daemon
  dwatch attach 4242                       # attach to a running debug build
  dwatch ps                                # local debug-build processes`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (default from [server] or "+defaultAPIURL+")")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return root
}
