package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/murugaratham/dwatch/internal/debugger"
	"github.com/murugaratham/dwatch/internal/history"
	"github.com/murugaratham/dwatch/internal/launcher"
	"github.com/murugaratham/dwatch/internal/prompt"
	"github.com/murugaratham/dwatch/internal/scanner"
)

// CtrlType enumerates the events consumed by the engine loop.
type CtrlType int

const (
	CtrlTick CtrlType = iota
	CtrlDecision
	CtrlProcessStarted
	CtrlTaskEnded
	CtrlSessionStarted
	CtrlMessage
	CtrlStartTask
	CtrlStartScan
	CtrlStopScan
	CtrlAttach
	CtrlAttachExternal
	CtrlTerminate
	CtrlSnapshot
	CtrlShutdown
)

var ctrlNames = [...]string{
	"tick", "decision", "process_started", "task_ended", "session_started", "message",
	"start_task", "start_scan", "stop_scan", "attach", "attach_external", "terminate",
	"snapshot", "shutdown",
}

func (t CtrlType) String() string {
	if int(t) < len(ctrlNames) {
		return ctrlNames[t]
	}
	return fmt.Sprintf("ctrl(%d)", int(t))
}

// CtrlMsg is one event on the engine queue. Only the fields of its Type are
// set. Reply, when present, receives the outcome exactly once.
type CtrlMsg struct {
	Type     CtrlType
	TaskID   string
	ExecID   string
	PID      int
	Err      error
	Plan     launcher.Plan
	Prompt   scanner.Prompt
	Decision scanner.Decision
	Started  debugger.SessionStarted
	Message  debugger.Message
	Reply    chan error
	Status   chan Status
}

// run is the single reconciliation loop. Every registry mutation happens
// here, one event at a time.
func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.dispose(context.Background())
			return
		case msg := <-m.ctrl:
			if msg.Type == CtrlShutdown {
				m.dispose(context.Background())
				reply(msg, nil)
				return
			}
			reply(msg, m.handle(ctx, msg))
		}
	}
}

func reply(msg CtrlMsg, err error) {
	if msg.Reply != nil {
		msg.Reply <- err
	}
}

func (m *Manager) handle(ctx context.Context, msg CtrlMsg) error {
	switch msg.Type {
	case CtrlTick:
		m.ticking.Store(false)
		res := m.scan.Tick(ctx)
		if res.Prompt != nil {
			m.ask(ctx, *res.Prompt)
		}
	case CtrlDecision:
		m.scan.Resolve(msg.Prompt, msg.Decision)
	case CtrlProcessStarted:
		if m.launcher.ProcessStarted(msg.TaskID, msg.ExecID, msg.PID) {
			m.scan.Start()
		}
	case CtrlTaskEnded:
		if t, ok := m.launcher.TaskEnded(msg.TaskID, msg.ExecID, msg.Err); ok {
			rec := history.Record{TaskID: t.ID, Project: t.ProjectName, PID: t.WatchPID}
			if msg.Err != nil {
				rec.Detail = msg.Err.Error()
			}
			m.history.Emit(history.NewEvent(history.EventTaskEnd, rec))
		}
	case CtrlSessionStarted:
		m.coord.SessionStarted(msg.Started)
	case CtrlMessage:
		m.coord.Message(ctx, msg.Message)
	case CtrlStartTask:
		if err := m.launcher.Launch(ctx, msg.Plan); err != nil {
			return err
		}
		m.history.Emit(history.NewEvent(history.EventTaskStart, history.Record{
			TaskID: msg.Plan.TaskID, Project: msg.Plan.Project.Name, Detail: msg.Plan.LaunchProfile,
		}))
	case CtrlStartScan:
		m.scan.Start()
	case CtrlStopScan:
		m.scan.Stop()
	case CtrlAttach, CtrlAttachExternal:
		return m.attach(ctx, msg.PID, msg.Type == CtrlAttachExternal)
	case CtrlTerminate:
		return m.coord.Terminate(ctx, msg.PID)
	case CtrlSnapshot:
		if msg.Status != nil {
			msg.Status <- m.status()
		}
	default:
		return fmt.Errorf("unknown control message %s", msg.Type)
	}
	return nil
}

// ask runs the reattach prompt off the loop; the scanner stays paused until
// the decision comes back as an event.
func (m *Manager) ask(ctx context.Context, q scanner.Prompt) {
	m.log.Info("reattach decision needed", "pid", q.PID, "previous_pid", q.PreviousPID)
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		d := prompt.Reattach(ctx, m.prompter, q)
		_ = m.post(CtrlMsg{Type: CtrlDecision, Prompt: q, Decision: d})
	}()
}

func (m *Manager) attach(ctx context.Context, pid int, external bool) error {
	snap := m.dir.Snapshot(ctx)
	for _, rec := range snap.All() {
		if rec.PID != pid {
			continue
		}
		if external {
			m.reg.SetExternal(externalOf(rec))
		}
		_, err := m.coord.Attach(ctx, rec)
		return err
	}
	return fmt.Errorf("%w: %d", ErrNoProcess, pid)
}

// dispose stops scanning, ends every session connection, terminates every
// task and clears the registry.
func (m *Manager) dispose(ctx context.Context) {
	m.stop()
	m.scan.Stop()
	var errs []error
	if c, ok := m.front.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, m.reg.Dispose(ctx))
	m.coord.Wait()
	errs = append(errs, m.history.Close())
	if err := errors.Join(errs...); err != nil {
		m.log.Warn("engine disposed with errors", "error", err)
	} else {
		m.log.Info("engine disposed")
	}
}
