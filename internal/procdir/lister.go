package procdir

import (
	"context"
	"fmt"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// GopsutilLister reads the process table through gopsutil, which hides the
// /proc, sysctl and Windows API differences behind one call.
type GopsutilLister struct{}

func (GopsutilLister) Name() string { return "gopsutil" }

func (GopsutilLister) List(ctx context.Context) ([]Record, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	out := make([]Record, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			// exited between listing and inspection
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || strings.TrimSpace(cmdline) == "" {
			continue
		}
		out = append(out, Record{PID: int(p.Pid), PPID: int(ppid), CommandLine: cmdline})
	}
	return out, nil
}

// NewLister maps a configured source name to a Lister.
func NewLister(source string) (Lister, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", "gopsutil":
		return GopsutilLister{}, nil
	case "ps":
		return PSLister{}, nil
	default:
		return nil, fmt.Errorf("unknown process source %q", source)
	}
}
