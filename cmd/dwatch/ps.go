package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/murugaratham/dwatch/internal/procdir"
	"github.com/murugaratham/dwatch/internal/scanner"
)

func createPSCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &PSFlags{}
	cmd := &cobra.Command{
		Use:   "ps [pid]",
		Short: "List debug-build processes on this machine",
		Long: `List local processes whose command line contains the debug-build
discriminator. With a pid, only its descendants are listed. Does not need
the daemon.

Examples:
  dwatch ps
  dwatch ps 4100                     # processes started under dotnet watch 4100
  dwatch ps --all --source=ps`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := 0
			if len(args) == 1 {
				pid, err := parsePID(args[0])
				if err != nil {
					return err
				}
				scope = pid
			}
			if globalFlags.ConfigPath != "" {
				cfg, err := loadConfig(globalFlags.ConfigPath)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("discriminator") {
					flags.Discriminator = cfg.Scanner.Discriminator
				}
				if !cmd.Flags().Changed("source") {
					flags.Source = cfg.Scanner.ProcessSource
				}
			}
			lister, err := procdir.NewLister(flags.Source)
			if err != nil {
				return err
			}
			return runPS(orBackground(cmd.Context()), lister, scope, flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.Discriminator, "discriminator", scanner.DefaultDiscriminator, "command line marker of debug builds")
	cmd.Flags().BoolVar(&flags.All, "all", false, "list every process, not only debug builds")
	cmd.Flags().StringVar(&flags.Source, "source", "gopsutil", "process source: gopsutil or ps")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", procdir.DefaultQueryTimeout, "process query timeout")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	return cmd
}

func runPS(ctx context.Context, lister procdir.Lister, scope int, flags *PSFlags, w io.Writer) error {
	dir := procdir.New(lister, flags.Timeout, slog.New(slog.NewTextHandler(io.Discard, nil)))
	start := time.Now()
	recs := dir.List(ctx, scope)
	if !flags.All {
		kept := recs[:0]
		for _, r := range recs {
			if procdir.ContainsDiscriminator(r.CommandLine, flags.Discriminator) {
				kept = append(kept, r)
			}
		}
		recs = kept
	}
	if flags.JSON {
		if recs == nil {
			recs = []procdir.Record{}
		}
		return writeJSON(w, recs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PID\tPPID\tCOMMAND")
	for _, r := range recs {
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\n", r.PID, r.PPID, r.CommandLine)
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintf(w, "%d process(es) via %s in %s\n", len(recs), lister.Name(), time.Since(start).Truncate(time.Millisecond))
	return nil
}
