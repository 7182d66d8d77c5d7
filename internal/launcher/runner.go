package launcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/murugaratham/dwatch/internal/logger"
	"github.com/murugaratham/dwatch/internal/process"
	"github.com/murugaratham/dwatch/internal/registry"
)

// ExecRunner runs watch commands as child processes in their own process
// group, with output in rotated per-task log files.
type ExecRunner struct {
	Logs     logger.Config
	StopWait time.Duration
	Listener Listener
	Log      *slog.Logger
}

func (r *ExecRunner) Execute(_ context.Context, taskID string, cmd CommandSpec) (registry.Execution, error) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	out, errw, err := r.Logs.TaskWriters(cmd.Name)
	if err != nil {
		log.Warn("task output not captured", "task", taskID, "error", err)
		out, errw = nil, nil
	}
	p := process.New(process.Spec{
		Name:     cmd.Name,
		Program:  cmd.Program,
		Args:     cmd.Args,
		WorkDir:  cmd.Dir,
		Env:      cmd.Env,
		StopWait: r.StopWait,
	})
	if err := p.Start(out, errw); err != nil {
		return nil, err
	}
	e := &execution{id: uuid.NewString(), taskID: taskID, proc: p}
	go func() {
		if r.Listener == nil {
			return
		}
		r.Listener.ProcessStarted(taskID, e.id, p.PID())
		<-p.Done()
		r.Listener.TaskEnded(taskID, e.id, p.Snapshot().ExitErr)
	}()
	return e, nil
}

type execution struct {
	id     string
	taskID string
	proc   *process.Process
}

func (e *execution) ID() string { return e.id }

func (e *execution) PID() int { return e.proc.PID() }

// Terminate stops the process group. It returns early when ctx ends; the
// stop continues in the background.
func (e *execution) Terminate(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- e.proc.Stop() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
