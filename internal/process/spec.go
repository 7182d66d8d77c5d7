package process

import (
	"os/exec"
	"time"
)

// DefaultStopWait is how long Stop waits after SIGTERM before escalating.
const DefaultStopWait = 3 * time.Second

// Spec describes a child process to run. Program and Args are passed to
// exec without a shell.
type Spec struct {
	Name     string        `json:"name"`
	Program  string        `json:"program"`
	Args     []string      `json:"args"`
	WorkDir  string        `json:"work_dir"`
	Env      []string      `json:"env"` // full environment; nil inherits the parent's
	StopWait time.Duration `json:"stop_wait"`
}

// BuildCommand constructs an *exec.Cmd for the spec.
func (s *Spec) BuildCommand() *exec.Cmd {
	// #nosec G204
	cmd := exec.Command(s.Program, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)
	return cmd
}

func (s *Spec) stopWait() time.Duration {
	if s.StopWait > 0 {
		return s.StopWait
	}
	return DefaultStopWait
}
