package manager

import (
	"context"

	"github.com/murugaratham/dwatch/internal/procdir"
	"github.com/murugaratham/dwatch/internal/registry"
	"github.com/murugaratham/dwatch/internal/scanner"
)

// Status is what the status display renders.
type Status struct {
	registry.View
	Scanning bool            `json:"scanning"`
	Paused   bool            `json:"paused"`
	Pending  *scanner.Prompt `json:"pending,omitempty"`
}

func (m *Manager) status() Status {
	st := Status{View: m.reg.View(), Scanning: m.scan.Running(), Paused: m.scan.Paused()}
	if q, ok := m.scan.Pending(); ok {
		st.Pending = &q
	}
	return st
}

// ProcessView is one debug-build process as shown by the status display.
type ProcessView struct {
	procdir.Record
	Task         string `json:"task,omitempty"`
	Session      string `json:"session,omitempty"`
	Attached     bool   `json:"attached"`
	Disconnected bool   `json:"disconnected"`
	External     bool   `json:"external"`
}

// Processes lists every process whose command line carries the debug-build
// discriminator, annotated with registry state. It reads the registry
// without going through the loop.
func (m *Manager) Processes(ctx context.Context) []ProcessView {
	discriminator := m.discriminator
	snap := m.dir.Snapshot(ctx)
	tasks := m.reg.Values()
	ext, hasExt := m.reg.External()

	var out []ProcessView
	for _, rec := range snap.Filter(func(r procdir.Record) bool {
		return procdir.ContainsDiscriminator(r.CommandLine, discriminator)
	}) {
		v := ProcessView{Record: rec}
		exe := procdir.ExecutablePath(rec.CommandLine)
		for _, t := range tasks {
			if t.ProjectFolderPath != "" && procdir.HasPathPrefix(exe, t.ProjectFolderPath) {
				v.Task = t.ID
				break
			}
		}
		if e, ok := m.reg.Session(rec.PID); ok {
			v.Attached, v.Session = true, e.Name
		}
		v.Disconnected = m.reg.IsDisconnected(rec.PID)
		v.External = hasExt && ext.PID == rec.PID
		out = append(out, v)
	}
	return out
}
