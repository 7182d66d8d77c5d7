// Package registry holds the engine's shared state: watch tasks, debug
// sessions, disconnected pids and the cached external watch process.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/murugaratham/dwatch/internal/debugger"
)

var ErrSlotTaken = errors.New("task slot already exists")

// Registry is the in-memory store of tasks, sessions, disconnected pids and
// the single external process slot. Operations are individually atomic; compound
// sequences are the caller's responsibility.
type Registry struct {
	mu           sync.RWMutex
	tasks        map[string]*WatchTask // nil value: reserved, not yet populated
	order        []string
	sessions     map[int]SessionEntry
	disconnected map[int]struct{}
	external     *ExternalProcess
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		tasks:        make(map[string]*WatchTask),
		sessions:     make(map[int]SessionEntry),
		disconnected: make(map[int]struct{}),
	}
}

// --- tasks ---

// Reserve claims the slot for id before the task exists.
func (r *Registry) Reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; ok {
		return fmt.Errorf("%w: %s", ErrSlotTaken, id)
	}
	r.tasks[id] = nil
	r.order = append(r.order, id)
	return nil
}

// Set populates (or creates) the slot for id.
func (r *Registry) Set(id string, t WatchTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		r.order = append(r.order, id)
	}
	t.ID = id
	r.tasks[id] = &t
}

// Has reports whether a slot exists for id, reserved or populated.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[id]
	return ok
}

// Get returns the populated task for id. A reserved slot reports false.
func (r *Registry) Get(id string) (WatchTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t := r.tasks[id]
	if t == nil {
		return WatchTask{}, false
	}
	return *t, true
}

// Remove drops the slot for id and returns the task it held, if populated.
func (r *Registry) Remove(id string) (WatchTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return WatchTask{}, false
	}
	delete(r.tasks, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if t == nil {
		return WatchTask{}, false
	}
	return *t, true
}

// Values returns populated tasks in insertion order.
func (r *Registry) Values() []WatchTask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]WatchTask, 0, len(r.order))
	for _, id := range r.order {
		if t := r.tasks[id]; t != nil {
			out = append(out, *t)
		}
	}
	return out
}

// SetWatchPID records the spawned process id on the task whose execution
// matches execID. Stale notifications from an earlier execution are ignored.
func (r *Registry) SetWatchPID(id, execID string, pid int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[id]
	if t == nil || t.Execution == nil || t.Execution.ID() != execID {
		return false
	}
	t.WatchPID = pid
	return true
}

// RemoveExecution drops the task for id only if it still belongs to execID.
func (r *Registry) RemoveExecution(id, execID string) (WatchTask, bool) {
	r.mu.RLock()
	t := r.tasks[id]
	match := t != nil && t.Execution != nil && t.Execution.ID() == execID
	r.mu.RUnlock()
	if !match {
		return WatchTask{}, false
	}
	return r.Remove(id)
}

// --- sessions ---

func (r *Registry) HasSession(pid int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[pid]
	return ok
}

// AddSession registers e for pid. It refuses a pid that already holds a
// session or is marked disconnected, so concurrent attach requests resolve to
// a single winner.
func (r *Registry) AddSession(pid int, e SessionEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[pid]; ok {
		return false
	}
	if _, ok := r.disconnected[pid]; ok {
		return false
	}
	e.PID = pid
	r.sessions[pid] = e
	return true
}

func (r *Registry) RemoveSession(pid int) (SessionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[pid]
	delete(r.sessions, pid)
	return e, ok
}

func (r *Registry) Session(pid int) (SessionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[pid]
	return e, ok
}

// Sessions returns all entries ordered by pid.
func (r *Registry) Sessions() []SessionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SessionByToken finds the entry created with the given correlation token.
func (r *Registry) SessionByToken(token string) (SessionEntry, bool) {
	if token == "" {
		return SessionEntry{}, false
	}
	return r.find(func(e SessionEntry) bool { return e.Token == token })
}

// PlaceholderByName finds a placeholder whose session name equals name.
func (r *Registry) PlaceholderByName(name string) (SessionEntry, bool) {
	return r.find(func(e SessionEntry) bool { return e.Placeholder() && e.Name == name })
}

// SessionByHandle finds the entry holding h.
func (r *Registry) SessionByHandle(h debugger.SessionHandle) (SessionEntry, bool) {
	if h == nil {
		return SessionEntry{}, false
	}
	id := h.ID()
	return r.find(func(e SessionEntry) bool { return e.Handle != nil && e.Handle.ID() == id })
}

func (r *Registry) find(match func(SessionEntry) bool) (SessionEntry, bool) {
	for _, e := range r.Sessions() {
		if match(e) {
			return e, true
		}
	}
	return SessionEntry{}, false
}

// ReplaceHandle turns the placeholder for pid into a live session.
func (r *Registry) ReplaceHandle(pid int, h debugger.SessionHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[pid]
	if !ok {
		return false
	}
	e.Handle = h
	r.sessions[pid] = e
	return true
}

// --- disconnected pids ---

// MarkDisconnected records pid as deliberately disconnected and drops any
// session it still holds.
func (r *Registry) MarkDisconnected(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, pid)
	r.disconnected[pid] = struct{}{}
}

func (r *Registry) IsDisconnected(pid int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.disconnected[pid]
	return ok
}

func (r *Registry) ClearDisconnected(pid int) {
	r.mu.Lock()
	delete(r.disconnected, pid)
	r.mu.Unlock()
}

func (r *Registry) Disconnected() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.disconnected))
	for pid := range r.disconnected {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}

// --- external process slot ---

// SetExternal replaces the cached external watch process.
func (r *Registry) SetExternal(p ExternalProcess) {
	r.mu.Lock()
	r.external = &p
	r.mu.Unlock()
}

func (r *Registry) External() (ExternalProcess, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.external == nil {
		return ExternalProcess{}, false
	}
	return *r.external, true
}

// ClearExternal forgets the cached external watch process.
func (r *Registry) ClearExternal() {
	r.mu.Lock()
	r.external = nil
	r.mu.Unlock()
}

// --- lifecycle ---

// View returns a copy of every store.
func (r *Registry) View() View {
	v := View{
		Tasks:        r.Values(),
		Sessions:     r.Sessions(),
		Disconnected: r.Disconnected(),
	}
	r.mu.RLock()
	for _, id := range r.order {
		if r.tasks[id] == nil {
			v.Reserved = append(v.Reserved, id)
		}
	}
	if r.external != nil {
		ext := *r.external
		v.External = &ext
	}
	r.mu.RUnlock()
	return v
}

// Dispose clears every store and terminates the execution of every live task.
func (r *Registry) Dispose(ctx context.Context) error {
	r.mu.Lock()
	var execs []Execution
	for _, id := range r.order {
		if t := r.tasks[id]; t != nil && t.Execution != nil {
			execs = append(execs, t.Execution)
		}
	}
	r.tasks = make(map[string]*WatchTask)
	r.order = nil
	r.sessions = make(map[int]SessionEntry)
	r.disconnected = make(map[int]struct{})
	r.external = nil
	r.mu.Unlock()

	var errs []error
	for _, ex := range execs {
		if err := ex.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("terminate %s: %w", ex.ID(), err))
		}
	}
	return errors.Join(errs...)
}
