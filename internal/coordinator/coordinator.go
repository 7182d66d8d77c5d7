// Package coordinator owns the attach and disconnect protocol with the
// debugger front-end and keeps the registry's session state in step with it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/murugaratham/dwatch/internal/debugger"
	"github.com/murugaratham/dwatch/internal/history"
	"github.com/murugaratham/dwatch/internal/metrics"
	"github.com/murugaratham/dwatch/internal/procdir"
	"github.com/murugaratham/dwatch/internal/registry"
)

const (
	DefaultType = "coreclr"
	DefaultName = ".NET Core Attach - AUTO"

	DefaultDisconnectTimeout = 5 * time.Second
)

var (
	ErrIneligible = errors.New("pid is not eligible for attach")
	ErrUnknownPID = errors.New("no session or task for pid")
)

// ScanControl is the part of the scanner the coordinator drives.
type ScanControl interface {
	Start() bool
	Stop() bool
}

// Config is the base attach configuration. DisconnectTimeout bounds each
// background disconnect request.
type Config struct {
	Type              string
	Name              string
	DisconnectTimeout time.Duration
}

type Coordinator struct {
	cfg     Config
	reg     *registry.Registry
	front   debugger.Frontend
	scan    ScanControl
	history *history.Emitter
	log     *slog.Logger

	// handles this coordinator soft-disconnected; their later signals are
	// not terminal
	cmu    sync.Mutex
	cycled map[string]struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, reg *registry.Registry, front debugger.Frontend, scan ScanControl, em *history.Emitter, log *slog.Logger) *Coordinator {
	if cfg.Type == "" {
		cfg.Type = DefaultType
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{cfg: cfg, reg: reg, front: front, scan: scan, history: em, log: log, cycled: make(map[string]struct{})}
}

type owner struct {
	task     registry.WatchTask
	external *registry.ExternalProcess
}

func (o owner) label() string {
	if o.external != nil {
		return o.external.CommandLine
	}
	return o.task.ProjectName
}

// ownerOf finds the task whose project folder holds exe, preferring the
// deepest folder, then the cached external process for pid.
func (c *Coordinator) ownerOf(exe string, pid int) (owner, bool) {
	var best registry.WatchTask
	found := false
	for _, t := range c.reg.Values() {
		if t.ProjectFolderPath == "" || !procdir.HasPathPrefix(exe, t.ProjectFolderPath) {
			continue
		}
		if !found || len(procdir.NormalizePath(t.ProjectFolderPath)) > len(procdir.NormalizePath(best.ProjectFolderPath)) {
			best, found = t, true
		}
	}
	if found {
		return owner{task: best}, true
	}
	if ext, ok := c.reg.External(); ok && ext.PID == pid {
		return owner{external: &ext}, true
	}
	return owner{}, false
}

// Attach requests a debug session for rec. A placeholder entry is registered
// before the front-end is asked, so a concurrent request for the same pid
// loses. It returns ErrIneligible when rec has no owner, already holds a
// session or was disconnected.
func (c *Coordinator) Attach(ctx context.Context, rec procdir.Record) (bool, error) {
	exe := procdir.ExecutablePath(rec.CommandLine)
	o, ok := c.ownerOf(exe, rec.PID)
	if !ok {
		return false, fmt.Errorf("%w: pid %d has no owning task", ErrIneligible, rec.PID)
	}
	if c.reg.IsDisconnected(rec.PID) {
		if o.external == nil {
			// the debugger was closed on purpose and the process is still here
			c.reg.ClearDisconnected(rec.PID)
			c.terminateTask(o.task, "disconnected process still running")
		}
		return false, fmt.Errorf("%w: pid %d was disconnected", ErrIneligible, rec.PID)
	}

	name := o.label() + " - " + c.cfg.Name
	entry := registry.SessionEntry{
		Name:        name,
		Token:       uuid.NewString(),
		External:    o.external != nil,
		RequestedAt: time.Now(),
	}
	if !c.reg.AddSession(rec.PID, entry) {
		return false, fmt.Errorf("%w: pid %d already has a session", ErrIneligible, rec.PID)
	}

	err := c.front.StartDebugging(ctx, debugger.AttachConfig{
		Type:      c.cfg.Type,
		Request:   "attach",
		Name:      name,
		ProcessID: rec.PID,
		Token:     entry.Token,
	})
	if err != nil {
		c.reg.RemoveSession(rec.PID)
		return false, fmt.Errorf("start debugging pid %d: %w", rec.PID, err)
	}
	if c.scan != nil {
		c.scan.Start()
	}

	kind := "task"
	if entry.External {
		kind = "external"
	}
	metrics.IncAttach(kind)
	metrics.SetActiveSessions(c.reg.SessionCount())
	c.history.Emit(history.NewEvent(history.EventAttach, history.Record{
		TaskID: o.task.ID, Project: o.task.ProjectName, PID: rec.PID, Session: name, Detail: exe,
	}))
	c.log.Info("attach requested", "pid", rec.PID, "session", name, "kind", kind)
	return true, nil
}

// SessionStarted turns the matching placeholder into a live session. The
// correlation token is tried first, then the session name.
func (c *Coordinator) SessionStarted(s debugger.SessionStarted) bool {
	e, ok := c.reg.SessionByToken(s.Token)
	if !ok {
		e, ok = c.reg.PlaceholderByName(s.Name)
	}
	if !ok || !e.Placeholder() {
		c.log.Debug("session start not ours", "session", s.Name)
		return false
	}
	c.reg.ReplaceHandle(e.PID, s.Handle)
	c.log.Info("debug session started", "pid", e.PID, "session", e.Name)
	return true
}

func (c *Coordinator) entryFor(m debugger.Message) (registry.SessionEntry, bool) {
	if m.Handle != nil {
		return c.reg.SessionByHandle(m.Handle)
	}
	if e, ok := c.reg.SessionByToken(m.Token); ok {
		return e, true
	}
	for _, e := range c.reg.Sessions() {
		if m.Name != "" && e.Name == m.Name {
			return e, true
		}
	}
	return registry.SessionEntry{}, false
}

// Message interprets a protocol signal. It reports whether the signal was a
// genuine disconnect that tore the session down.
func (c *Coordinator) Message(ctx context.Context, m debugger.Message) bool {
	if m.Kind == debugger.KindAttachFailed {
		c.attachFailed(m)
		return false
	}
	if m.Handle != nil && c.cycledSignal(m) {
		return false
	}
	e, ok := c.entryFor(m)
	if !ok {
		return false
	}
	if !m.Terminal() {
		if m.Restart {
			metrics.IncDetach("restart")
			c.history.Emit(history.NewEvent(history.EventDetach, history.Record{PID: e.PID, Session: e.Name, Detail: "restart"}))
			c.log.Info("debugger restart, session kept", "pid", e.PID, "session", e.Name)
		}
		return false
	}
	c.disconnect(ctx, e, string(m.Kind))
	return true
}

func (c *Coordinator) cycledSignal(m debugger.Message) bool {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	if _, ok := c.cycled[m.Handle.ID()]; !ok {
		return false
	}
	if m.Kind == debugger.KindTerminated {
		delete(c.cycled, m.Handle.ID())
	}
	return true
}

func (c *Coordinator) forgetCycled(id string) {
	c.cmu.Lock()
	delete(c.cycled, id)
	c.cmu.Unlock()
}

// attachFailed releases the placeholder of a session that never started so
// a later tick may request it again.
func (c *Coordinator) attachFailed(m debugger.Message) {
	e, ok := c.reg.SessionByToken(m.Token)
	if !ok {
		e, ok = c.reg.PlaceholderByName(m.Name)
	}
	if !ok || !e.Placeholder() {
		return
	}
	c.reg.RemoveSession(e.PID)
	metrics.SetActiveSessions(c.reg.SessionCount())
	c.history.Emit(history.NewEvent(history.EventDetach, history.Record{PID: e.PID, Session: e.Name, Detail: "attach failed"}))
	c.log.Warn("attach failed, placeholder released", "pid", e.PID, "session", e.Name, "error", m.Err)
}

// detach sends the disconnect request off the engine loop. failed runs when
// the front-end reports an error.
func (c *Coordinator) detach(pid int, h debugger.SessionHandle, opts debugger.DisconnectOptions, failed func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DisconnectTimeout)
		defer cancel()
		if err := c.front.Disconnect(ctx, h, opts); err != nil {
			c.log.Warn("disconnect failed", "pid", pid, "soft", opts.Soft, "error", err)
			if failed != nil {
				failed()
			}
		}
	}()
}

// disconnect is the genuine end of a session: the pid is marked, its task is
// terminated and the scanner stops once nothing is attached.
func (c *Coordinator) disconnect(_ context.Context, e registry.SessionEntry, reason string) {
	c.reg.MarkDisconnected(e.PID)
	rec := history.Record{PID: e.PID, Session: e.Name, Detail: reason}
	if t, ok := c.taskBySessionName(e.Name); ok {
		rec.TaskID, rec.Project = t.ID, t.ProjectName
		c.terminateTask(t, "debug session ended")
	}
	metrics.IncDetach("disconnect")
	metrics.SetActiveSessions(c.reg.SessionCount())
	c.history.Emit(history.NewEvent(history.EventDisconnect, rec))
	c.log.Info("debug session disconnected", "pid", e.PID, "session", e.Name, "reason", reason)

	if c.reg.SessionCount() == 0 && c.scan != nil {
		c.scan.Stop()
	}
}

// taskBySessionName picks the task whose project name is the longest
// case-insensitive prefix of name.
func (c *Coordinator) taskBySessionName(name string) (registry.WatchTask, bool) {
	lower := strings.ToLower(name)
	var best registry.WatchTask
	found := false
	for _, t := range c.reg.Values() {
		if t.ProjectName == "" || !strings.HasPrefix(lower, strings.ToLower(t.ProjectName)) {
			continue
		}
		if !found || len(t.ProjectName) > len(best.ProjectName) {
			best, found = t, true
		}
	}
	return best, found
}

// terminateTask removes t from the registry and stops its process in the
// background.
func (c *Coordinator) terminateTask(t registry.WatchTask, reason string) {
	if _, ok := c.reg.Remove(t.ID); !ok {
		return
	}
	metrics.IncTaskEnd(t.ProjectName)
	metrics.SetActiveTasks(len(c.reg.Values()))
	c.history.Emit(history.NewEvent(history.EventTaskTerminated, history.Record{TaskID: t.ID, Project: t.ProjectName, PID: t.WatchPID, Detail: reason}))
	c.log.Info("terminating watch task", "task", t.ID, "reason", reason)
	if t.Execution == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := t.Execution.Terminate(context.Background()); err != nil {
			c.log.Warn("terminate watch task", "task", t.ID, "error", err)
		}
	}()
}

// Cycle soft-disconnects the session on pid so the next tick can attach to
// the process that replaced it. The registry is updated at once; the request
// to the front-end runs in the background.
func (c *Coordinator) Cycle(_ context.Context, pid int) error {
	e, ok := c.reg.Session(pid)
	if !ok || e.Placeholder() {
		return nil
	}
	c.reg.RemoveSession(pid)
	id := e.Handle.ID()
	c.cmu.Lock()
	c.cycled[id] = struct{}{}
	c.cmu.Unlock()
	metrics.IncDetach("cycle")
	metrics.SetActiveSessions(c.reg.SessionCount())
	c.history.Emit(history.NewEvent(history.EventDetach, history.Record{PID: pid, Session: e.Name, Detail: "cycle"}))
	c.log.Info("cycling stale session", "pid", pid, "session", e.Name)
	// a failed request produces no terminated signal for the handle
	c.detach(pid, e.Handle, debugger.DisconnectOptions{Soft: true}, func() { c.forgetCycled(id) })
	return nil
}

// Terminate is the user stop action for pid: the session is disconnected with
// the debuggee terminated and its task torn down, and a task whose watch
// process is pid is terminated as well.
func (c *Coordinator) Terminate(ctx context.Context, pid int) error {
	handled := false
	if e, ok := c.reg.Session(pid); ok {
		handled = true
		if !e.Placeholder() {
			c.detach(pid, e.Handle, debugger.DisconnectOptions{TerminateDebuggee: true}, nil)
		}
		c.disconnect(ctx, e, "terminate")
	}
	for _, t := range c.reg.Values() {
		if t.WatchPID == pid {
			handled = true
			c.terminateTask(t, "terminated by user")
		}
	}
	if !handled {
		return fmt.Errorf("%w: %d", ErrUnknownPID, pid)
	}
	return nil
}

// Wait blocks until background disconnects and task terminations finish.
func (c *Coordinator) Wait() { c.wg.Wait() }
