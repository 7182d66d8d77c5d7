package process

import "time"

// Status is a point-in-time copy of a process's lifecycle.
type Status struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   error     `json:"exit_error,omitempty"`
	Stopped   bool      `json:"stopped"` // exit followed a Stop request
}
