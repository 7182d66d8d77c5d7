package client

import "time"

// TaskRequest asks the daemon to start a watch task.
type TaskRequest struct {
	Workspace     string            `json:"workspace"`
	Project       string            `json:"project,omitempty"`
	LaunchProfile string            `json:"launch_profile,omitempty"`
	Args          []string          `json:"args,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
}

// Task is a running watch task.
type Task struct {
	ID                string    `json:"id"`
	WorkspaceRoot     string    `json:"workspace_root"`
	ProjectPath       string    `json:"project_path"`
	ProjectFolderPath string    `json:"project_folder_path"`
	ProjectName       string    `json:"project_name"`
	LaunchProfile     string    `json:"launch_profile,omitempty"`
	WatchPID          int       `json:"watch_pid"`
	StartedAt         time.Time `json:"started_at"`
}

// Session is a debug session, or a placeholder for one being started.
type Session struct {
	PID         int       `json:"pid"`
	Name        string    `json:"name"`
	Token       string    `json:"token"`
	External    bool      `json:"external"`
	RequestedAt time.Time `json:"requested_at"`
	Attached    bool      `json:"attached"`
}

// External is the adopted watch process not launched by the daemon.
type External struct {
	PID         int    `json:"pid"`
	CommandLine string `json:"command_line"`
}

// Prompt is a reattach decision the daemon is waiting on.
type Prompt struct {
	PID         int    `json:"pid"`
	PreviousPID int    `json:"previous_pid"`
	CommandLine string `json:"command_line"`
}

// Status is the daemon's view of tasks, sessions and the scanner.
type Status struct {
	Tasks        []Task    `json:"tasks"`
	Reserved     []string  `json:"reserved"`
	Sessions     []Session `json:"sessions"`
	Disconnected []int     `json:"disconnected"`
	External     *External `json:"external,omitempty"`
	Scanning     bool      `json:"scanning"`
	Paused       bool      `json:"paused"`
	Pending      *Prompt   `json:"pending,omitempty"`
}

// Process is one debug-build process annotated with daemon state.
type Process struct {
	PID          int    `json:"pid"`
	PPID         int    `json:"ppid"`
	CommandLine  string `json:"command_line"`
	Task         string `json:"task,omitempty"`
	Session      string `json:"session,omitempty"`
	Attached     bool   `json:"attached"`
	Disconnected bool   `json:"disconnected"`
	External     bool   `json:"external"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
