package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/murugaratham/dwatch/internal/debugger"
)

// Execution is the runner's handle on a started watch task.
type Execution interface {
	ID() string
	Terminate(ctx context.Context) error
}

// WatchTask is one outstanding watch-build invocation. WatchPID is zero until
// the runner reports the spawned process id.
type WatchTask struct {
	ID                string    `json:"id"`
	WorkspaceRoot     string    `json:"workspace_root"`
	ProjectPath       string    `json:"project_path"`
	ProjectFolderPath string    `json:"project_folder_path"`
	ProjectName       string    `json:"project_name"`
	LaunchProfile     string    `json:"launch_profile,omitempty"`
	WatchPID          int       `json:"watch_pid"`
	StartedAt         time.Time `json:"started_at"`
	Execution         Execution `json:"-"`
}

// SessionEntry tracks a debug session per pid. It starts as a placeholder
// (no Handle) when attach is requested and receives the handle once the
// front-end reports the session.
type SessionEntry struct {
	PID         int                    `json:"pid"`
	Name        string                 `json:"name"`
	Token       string                 `json:"token"`
	External    bool                   `json:"external"`
	RequestedAt time.Time              `json:"requested_at"`
	Handle      debugger.SessionHandle `json:"-"`
}

func (e SessionEntry) Placeholder() bool { return e.Handle == nil }

// MarshalJSON adds "attached" so clients can tell placeholders apart.
func (e SessionEntry) MarshalJSON() ([]byte, error) {
	type entry SessionEntry
	return json.Marshal(struct {
		entry
		Attached bool `json:"attached"`
	}{entry(e), !e.Placeholder()})
}

// ExternalProcess is a watch-style process not launched by this engine.
type ExternalProcess struct {
	PID         int    `json:"pid"`
	CommandLine string `json:"command_line"`
}

// View is a consistent copy of the registry for display.
type View struct {
	Tasks        []WatchTask      `json:"tasks"`
	Reserved     []string         `json:"reserved"`
	Sessions     []SessionEntry   `json:"sessions"`
	Disconnected []int            `json:"disconnected"`
	External     *ExternalProcess `json:"external,omitempty"`
}
