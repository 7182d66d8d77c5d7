package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("process already started")
	ErrNoProgram      = errors.New("process program is empty")
)

type Process struct {
	spec      Spec
	cmd       *exec.Cmd
	status    Status
	mu        sync.Mutex
	stopping  bool // true when Stop has been requested
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	done      chan struct{} // closed by monitor when cmd.Wait returns
}

func New(spec Spec) *Process {
	return &Process{spec: spec, status: Status{Name: spec.Name}}
}

func (r *Process) Spec() Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spec
}

// Start launches the process with stdout and stderr routed to the given
// writers (nil discards). The writers are closed once the process exits.
// A monitor goroutine reaps the child; Done is closed afterwards.
func (r *Process) Start(stdout, stderr io.WriteCloser) error {
	r.mu.Lock()
	if r.cmd != nil {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	spec := r.spec
	r.mu.Unlock()
	if spec.Program == "" {
		return ErrNoProgram
	}

	cmd := spec.BuildCommand()
	cmd.Stdout = writerOrNull(stdout)
	cmd.Stderr = writerOrNull(stderr)
	if err := cmd.Start(); err != nil {
		closeQuiet(stdout)
		closeQuiet(stderr)
		return err
	}

	r.mu.Lock()
	r.cmd = cmd
	r.outCloser, r.errCloser = stdout, stderr
	r.done = make(chan struct{})
	r.status.Running = true
	r.status.PID = cmd.Process.Pid
	r.status.StartedAt = time.Now()
	done := r.done
	r.mu.Unlock()

	go r.monitor(cmd, done)
	return nil
}

func (r *Process) monitor(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	r.mu.Lock()
	r.status.Running = false
	r.status.StoppedAt = time.Now()
	r.status.ExitErr = err
	r.status.Stopped = r.stopping
	out, errw := r.outCloser, r.errCloser
	r.outCloser, r.errCloser = nil, nil
	r.mu.Unlock()
	closeQuiet(out)
	closeQuiet(errw)
	close(done)
}

// Done is closed when the process has exited and been reaped. It is nil
// before Start.
func (r *Process) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Process) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.PID
}

func (r *Process) StopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

// Snapshot returns a copy of the current status.
func (r *Process) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Stop sends SIGTERM to the process group, waits up to the spec's stop wait
// and then escalates to SIGKILL. It returns once the process is reaped or
// shortly after the kill when it is not.
func (r *Process) Stop() error {
	r.mu.Lock()
	cmd, done, wait := r.cmd, r.done, r.spec.stopWait()
	r.stopping = true
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	pid := cmd.Process.Pid
	_ = signalGroup(pid, syscall.SIGTERM)
	select {
	case <-done:
		return nil
	case <-time.After(wait):
	}
	if err := signalGroup(pid, syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		select {
		case <-done:
			return nil
		default:
			return err
		}
	}
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		// best-effort
	}
	return nil
}

func writerOrNull(w io.WriteCloser) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func closeQuiet(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
