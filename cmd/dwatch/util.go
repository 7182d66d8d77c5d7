package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/murugaratham/dwatch/pkg/client"
)

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// taskRequest makes workspace absolute and splits KEY=VALUE pairs.
func taskRequest(workspace, project, profile string, args, env []string) (client.TaskRequest, error) {
	ws, err := filepath.Abs(workspace)
	if err != nil {
		return client.TaskRequest{}, fmt.Errorf("workspace %s: %w", workspace, err)
	}
	kv, err := parseEnv(env)
	if err != nil {
		return client.TaskRequest{}, err
	}
	return client.TaskRequest{Workspace: ws, Project: project, LaunchProfile: profile, Args: args, Env: kv}, nil
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid env %q: want KEY=VALUE", p)
		}
		out[k] = v
	}
	return out, nil
}

func renderStatus(w io.Writer, st client.Status) {
	scan := "stopped"
	switch {
	case st.Paused:
		scan = "paused"
	case st.Scanning:
		scan = "running"
	}
	_, _ = fmt.Fprintf(w, "Scanner: %s\n", scan)
	if st.Pending != nil {
		_, _ = fmt.Fprintf(w, "Waiting for reattach decision: pid %d (was %d) %s\n", st.Pending.PID, st.Pending.PreviousPID, st.Pending.CommandLine)
	}
	if st.External != nil {
		_, _ = fmt.Fprintf(w, "External watch process: %d %s\n", st.External.PID, st.External.CommandLine)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "\nTASK\tPROJECT\tPROFILE\tWATCH PID\tUPTIME")
	if len(st.Tasks) == 0 {
		_, _ = fmt.Fprintln(tw, "-\t\t\t\t")
	}
	for _, t := range st.Tasks {
		pid := "starting"
		if t.WatchPID > 0 {
			pid = fmt.Sprint(t.WatchPID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.ProjectName, dash(t.LaunchProfile), pid, uptime(t.StartedAt))
	}
	for _, id := range st.Reserved {
		_, _ = fmt.Fprintf(tw, "%s\t\t\tresolving\t\n", id)
	}
	_, _ = fmt.Fprintln(tw, "\nPID\tSESSION\tSTATE\t\t")
	if len(st.Sessions) == 0 {
		_, _ = fmt.Fprintln(tw, "-\t\t\t\t")
	}
	for _, s := range st.Sessions {
		state := "attaching"
		if s.Attached {
			state = "attached"
		}
		if s.External {
			state += " (external)"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t\t\n", s.PID, s.Name, state)
	}
	for _, pid := range st.Disconnected {
		_, _ = fmt.Fprintf(tw, "%d\t\tdisconnected\t\t\n", pid)
	}
	_ = tw.Flush()
}

func renderProcesses(w io.Writer, procs []client.Process) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "\nPID\tPPID\tSTATE\tTASK\tCOMMAND")
	for _, p := range procs {
		state := "-"
		switch {
		case p.Attached:
			state = "attached"
		case p.Disconnected:
			state = "disconnected"
		case p.External:
			state = "external"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", p.PID, p.PPID, state, dash(p.Task), p.CommandLine)
	}
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func uptime(since time.Time) string {
	if since.IsZero() {
		return "-"
	}
	return time.Since(since).Truncate(time.Second).String()
}
