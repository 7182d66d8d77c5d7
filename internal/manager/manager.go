// Package manager is the engine context: it wires the process directory,
// registry, launcher, scanner and coordinator together and serializes every
// state transition through one ordered event loop.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murugaratham/dwatch/internal/coordinator"
	"github.com/murugaratham/dwatch/internal/debugger"
	"github.com/murugaratham/dwatch/internal/history"
	"github.com/murugaratham/dwatch/internal/launcher"
	"github.com/murugaratham/dwatch/internal/logger"
	"github.com/murugaratham/dwatch/internal/metrics"
	"github.com/murugaratham/dwatch/internal/procdir"
	"github.com/murugaratham/dwatch/internal/prompt"
	"github.com/murugaratham/dwatch/internal/registry"
	"github.com/murugaratham/dwatch/internal/scanner"
)

var (
	ErrClosed    = errors.New("engine closed")
	ErrNoProcess = errors.New("no such process")
)

const queueSize = 64

// Options configure a Manager. Zero values select the production defaults.
type Options struct {
	Scanner      scanner.Config
	Coordinator  coordinator.Config
	Launcher     launcher.Config
	Lister       procdir.Lister
	QueryTimeout time.Duration
	Logs         logger.Config
	StopWait     time.Duration
	Prompter     prompt.Prompter
	Sinks        []history.Sink
	Autostart    []launcher.Descriptor

	// Frontend builds the debugger front-end around the engine's listener.
	Frontend func(debugger.Listener) debugger.Frontend
	// Runner builds the build task runner around the engine's listener.
	// Nil selects launcher.ExecRunner.
	Runner func(launcher.Listener) launcher.Runner

	Log *slog.Logger
}

type Manager struct {
	log      *slog.Logger
	reg      *registry.Registry
	dir      *procdir.Directory
	launcher *launcher.Launcher
	scan     *scanner.Scanner
	coord    *coordinator.Coordinator
	front    debugger.Frontend
	prompter prompt.Prompter
	history  *history.Emitter
	auto     []launcher.Descriptor

	discriminator string

	ctrl     chan CtrlMsg
	done     chan struct{}
	stopping chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	ticking  atomic.Bool
	bg       sync.WaitGroup
}

func New(opts Options) *Manager {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	p := opts.Prompter
	if p == nil {
		p = prompt.Policy{Choice: -1, Log: log}
	}
	m := &Manager{
		log:      log,
		reg:      registry.New(),
		prompter: p,
		history:  history.NewEmitter(log, opts.Sinks...),
		auto:     append([]launcher.Descriptor(nil), opts.Autostart...),
		ctrl:     make(chan CtrlMsg, queueSize),
		done:     make(chan struct{}),
		stopping: make(chan struct{}),
	}
	m.discriminator = opts.Scanner.Discriminator
	if m.discriminator == "" {
		m.discriminator = scanner.DefaultDiscriminator
	}
	m.dir = procdir.New(opts.Lister, opts.QueryTimeout, log)

	var runner launcher.Runner
	if opts.Runner != nil {
		runner = opts.Runner(m)
	} else {
		runner = &launcher.ExecRunner{Logs: opts.Logs, StopWait: opts.StopWait, Listener: m, Log: log}
	}
	m.launcher = launcher.New(m.reg, runner, p, opts.Launcher, log)

	listener := debugger.ListenerFuncs{
		OnStarted: func(s debugger.SessionStarted) { _ = m.post(CtrlMsg{Type: CtrlSessionStarted, Started: s}) },
		OnMessage: func(msg debugger.Message) { _ = m.post(CtrlMsg{Type: CtrlMessage, Message: msg}) },
	}
	if opts.Frontend != nil {
		m.front = opts.Frontend(listener)
	} else {
		m.front = unavailable{}
	}

	m.scan = scanner.New(opts.Scanner, m.dir, m.reg, m.postTick, log)
	m.coord = coordinator.New(opts.Coordinator, m.reg, m.front, m.scan, m.history, log)
	m.scan.SetAttacher(m.coord)
	return m
}

// ProcessStarted and TaskEnded make the Manager the runner's listener.
func (m *Manager) ProcessStarted(taskID, execID string, pid int) {
	_ = m.post(CtrlMsg{Type: CtrlProcessStarted, TaskID: taskID, ExecID: execID, PID: pid})
}

func (m *Manager) TaskEnded(taskID, execID string, err error) {
	_ = m.post(CtrlMsg{Type: CtrlTaskEnded, TaskID: taskID, ExecID: execID, Err: err})
}

func (m *Manager) post(msg CtrlMsg) error {
	select {
	case <-m.stopping:
		return ErrClosed
	default:
	}
	select {
	case m.ctrl <- msg:
		return nil
	case <-m.stopping:
		return ErrClosed
	}
}

// postTick queues at most one tick at a time and never blocks the ticker.
func (m *Manager) postTick() {
	if !m.ticking.CompareAndSwap(false, true) {
		return
	}
	select {
	case m.ctrl <- CtrlMsg{Type: CtrlTick}:
	default:
		m.ticking.Store(false)
	}
}

func (m *Manager) request(ctx context.Context, msg CtrlMsg) error {
	msg.Reply = make(chan error, 1)
	if err := m.post(msg); err != nil {
		return err
	}
	select {
	case err := <-msg.Reply:
		return err
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the event queue until ctx ends or Dispose is called, then
// disposes the engine. Configured autostart projects are launched first.
func (m *Manager) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	lctx, cancel := context.WithCancel(ctx)
	defer func() {
		m.stop()
		cancel()
		m.bg.Wait()
	}()
	for _, d := range m.auto {
		m.bg.Add(1)
		go func(d launcher.Descriptor) {
			defer m.bg.Done()
			if err := m.StartTask(lctx, d); err != nil && !errors.Is(err, launcher.ErrAlreadyRunning) {
				m.log.Warn("autostart failed", "workspace", d.Workspace, "project", d.Project, "error", err)
			}
		}(d)
	}
	m.run(lctx)
	return nil
}

func (m *Manager) stop() {
	m.stopOnce.Do(func() { close(m.stopping) })
}

// Dispose stops the engine: no further ticks, every task terminated, every
// store cleared and history sinks closed. It is safe to call more than once.
func (m *Manager) Dispose(ctx context.Context) error {
	if !m.started.Load() {
		if m.started.CompareAndSwap(false, true) {
			m.stop()
			m.dispose(ctx)
			close(m.done)
		}
		return nil
	}
	err := m.request(ctx, CtrlMsg{Type: CtrlShutdown})
	if errors.Is(err, ErrClosed) {
		<-m.done
		return nil
	}
	return err
}

// Done is closed once the engine has been disposed.
func (m *Manager) Done() <-chan struct{} { return m.done }

// StartTask resolves d, prompting if needed, and launches it on the loop.
// A task that is already running yields launcher.ErrAlreadyRunning.
func (m *Manager) StartTask(ctx context.Context, d launcher.Descriptor) error {
	plan, err := m.launcher.Resolve(ctx, d)
	if err != nil {
		m.log.Warn("project resolution failed", "workspace", d.Workspace, "project", d.Project, "error", err)
		return err
	}
	return m.request(ctx, CtrlMsg{Type: CtrlStartTask, Plan: plan})
}

func (m *Manager) StartScan(ctx context.Context) error {
	return m.request(ctx, CtrlMsg{Type: CtrlStartScan})
}

func (m *Manager) StopScan(ctx context.Context) error {
	return m.request(ctx, CtrlMsg{Type: CtrlStopScan})
}

// Attach requests a debugger for pid, which must belong to a tracked task
// or the adopted external process.
func (m *Manager) Attach(ctx context.Context, pid int) error {
	return m.request(ctx, CtrlMsg{Type: CtrlAttach, PID: pid})
}

// AttachExternal adopts pid as the external watch process, then attaches.
func (m *Manager) AttachExternal(ctx context.Context, pid int) error {
	return m.request(ctx, CtrlMsg{Type: CtrlAttachExternal, PID: pid})
}

// Terminate stops debugging pid and tears down its task.
func (m *Manager) Terminate(ctx context.Context, pid int) error {
	return m.request(ctx, CtrlMsg{Type: CtrlTerminate, PID: pid})
}

// Snapshot returns a consistent view taken on the loop.
func (m *Manager) Snapshot(ctx context.Context) (Status, error) {
	ch := make(chan Status, 1)
	if err := m.request(ctx, CtrlMsg{Type: CtrlSnapshot, Status: ch}); err != nil {
		return Status{}, err
	}
	return <-ch, nil
}

// Reload applies a changed reattach policy and workspace list.
func (m *Manager) Reload(p scanner.Policy, workspaces []string) {
	m.scan.SetPolicy(p)
	m.scan.SetWorkspaces(workspaces)
	m.log.Info("configuration reloaded", "reattach", p, "workspaces", len(workspaces))
}

// SessionTargets lists live debuggees for the metrics collector.
func (m *Manager) SessionTargets() []metrics.SessionTarget {
	var out []metrics.SessionTarget
	for _, e := range m.reg.Sessions() {
		if !e.Placeholder() {
			out = append(out, metrics.SessionTarget{PID: e.PID, Name: e.Name})
		}
	}
	return out
}

func externalOf(rec procdir.Record) registry.ExternalProcess {
	return registry.ExternalProcess{PID: rec.PID, CommandLine: rec.CommandLine}
}

// unavailable is the front-end used when no debug adapter is configured.
type unavailable struct{}

func (unavailable) StartDebugging(context.Context, debugger.AttachConfig) error {
	return fmt.Errorf("start debugging: no debugger front-end configured")
}

func (unavailable) Disconnect(context.Context, debugger.SessionHandle, debugger.DisconnectOptions) error {
	return nil
}
