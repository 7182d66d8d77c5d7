// Package scanner is the periodic attach reconciliation: every tick it
// gathers candidate processes for tracked watch tasks and the cached external
// watch process, narrows them to a single target and asks the coordinator to
// attach.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/murugaratham/dwatch/internal/coordinator"
	"github.com/murugaratham/dwatch/internal/metrics"
	"github.com/murugaratham/dwatch/internal/procdir"
	"github.com/murugaratham/dwatch/internal/registry"
)

const (
	DefaultInterval      = time.Second
	DefaultDiscriminator = "/bin/Debug"
)

// Decision answers a reattach prompt.
type Decision string

const (
	DecisionAlways  Decision = "always"
	DecisionOnce    Decision = "once"
	DecisionDecline Decision = "decline"
)

// Policy selects how a respawned external process is handled.
type Policy string

const (
	PolicyPrompt Policy = "prompt"
	PolicyAlways Policy = "always"
	PolicyOnce   Policy = "once"
	PolicyNever  Policy = "never"
)

// ParsePolicy reads a configured reattach policy. Empty means prompt.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyPrompt, nil
	case PolicyPrompt, PolicyAlways, PolicyOnce, PolicyNever:
		return p, nil
	default:
		return "", fmt.Errorf("unknown reattach policy %q", s)
	}
}

// Prompt is an outstanding reattach question.
type Prompt struct {
	PID         int    `json:"pid"`
	PreviousPID int    `json:"previous_pid"`
	CommandLine string `json:"command_line"`
}

// Result summarises one tick.
type Result struct {
	Skipped    string           `json:"skipped,omitempty"` // "stopped" or "paused"
	Candidates []procdir.Record `json:"candidates"`
	Attached   int              `json:"attached,omitempty"`
	Prompt     *Prompt          `json:"prompt,omitempty"`
	Cycled     []int            `json:"cycled,omitempty"`
	Cleared    []int            `json:"cleared,omitempty"`
}

// Snapshotter yields one consistent process table per call.
type Snapshotter interface {
	Snapshot(ctx context.Context) procdir.Snapshot
}

// Attacher is the coordinator side of a tick.
type Attacher interface {
	Attach(ctx context.Context, rec procdir.Record) (bool, error)
	Cycle(ctx context.Context, pid int) error
}

type Config struct {
	Interval      time.Duration
	Discriminator string
	Policy        Policy
	Workspaces    []string
}

// Scanner holds the running/paused state and the sticky reattach preference.
// Tick and Resolve must be called from the engine loop; Start and Stop are
// safe from anywhere.
type Scanner struct {
	mu       sync.Mutex
	cfg      Config
	dir      Snapshotter
	reg      *registry.Registry
	attacher Attacher
	post     func()
	log      *slog.Logger

	running bool
	stopCh  chan struct{}
	pending *Prompt
	always  map[string]struct{}
}

// New builds a stopped scanner. post is called on every interval and must
// schedule Tick on the engine loop without blocking.
func New(cfg Config, dir Snapshotter, reg *registry.Registry, post func(), log *slog.Logger) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Discriminator == "" {
		cfg.Discriminator = DefaultDiscriminator
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyPrompt
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{cfg: cfg, dir: dir, reg: reg, post: post, log: log, always: make(map[string]struct{})}
}

// SetAttacher wires the coordinator used by Tick.
func (s *Scanner) SetAttacher(a Attacher) {
	s.mu.Lock()
	s.attacher = a
	s.mu.Unlock()
}

// SetPolicy and SetWorkspaces apply a reloaded configuration.
func (s *Scanner) SetPolicy(p Policy) {
	s.mu.Lock()
	s.cfg.Policy = p
	s.mu.Unlock()
}

func (s *Scanner) SetWorkspaces(ws []string) {
	s.mu.Lock()
	s.cfg.Workspaces = append([]string(nil), ws...)
	s.mu.Unlock()
}

// Start begins posting ticks. It reports false when already running.
func (s *Scanner) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.stopCh = make(chan struct{})
	go s.loop(s.cfg.Interval, s.stopCh)
	s.log.Info("attach scanner started", "interval", s.cfg.Interval)
	return true
}

// Stop ends ticking, forgets "always reattach" answers and drops an
// outstanding prompt. It reports false when already stopped.
func (s *Scanner) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	close(s.stopCh)
	s.stopCh = nil
	s.running = false
	s.pending = nil
	s.always = make(map[string]struct{})
	s.log.Info("attach scanner stopped")
	return true
}

// Running reports whether the interval timer is active.
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Paused reports whether a reattach prompt is outstanding.
func (s *Scanner) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Pending returns the outstanding reattach prompt, if any.
func (s *Scanner) Pending() (Prompt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Prompt{}, false
	}
	return *s.pending, true
}

func (s *Scanner) loop(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if s.post != nil {
				s.post()
			}
		}
	}
}

// Resolve applies the answer to the outstanding prompt q and resumes ticking.
// Answers for a prompt that is no longer outstanding are ignored.
func (s *Scanner) Resolve(q Prompt, d Decision) bool {
	s.mu.Lock()
	if s.pending == nil || *s.pending != q {
		s.mu.Unlock()
		s.log.Debug("stale reattach decision ignored", "pid", q.PID, "decision", d)
		return false
	}
	s.pending = nil
	if d == DecisionAlways {
		s.always[q.CommandLine] = struct{}{}
	}
	s.mu.Unlock()
	s.apply(q, d)
	return true
}

func (s *Scanner) apply(q Prompt, d Decision) {
	metrics.IncReattachDecision(string(d))
	switch d {
	case DecisionAlways, DecisionOnce:
		s.reg.SetExternal(registry.ExternalProcess{PID: q.PID, CommandLine: q.CommandLine})
		s.log.Info("external watch process adopted", "pid", q.PID, "previous_pid", q.PreviousPID, "decision", d)
	default:
		s.reg.ClearExternal()
		s.log.Info("external watch process released", "pid", q.PID, "previous_pid", q.PreviousPID)
	}
}

// Tick runs one reconciliation pass against a single process snapshot.
func (s *Scanner) Tick(ctx context.Context) Result {
	s.mu.Lock()
	running, paused := s.running, s.pending != nil
	cfg := s.cfg
	cfg.Workspaces = append([]string(nil), s.cfg.Workspaces...)
	attacher := s.attacher
	s.mu.Unlock()

	switch {
	case !running:
		return Result{Skipped: "stopped"}
	case paused:
		metrics.IncScanTick("paused")
		return Result{Skipped: "paused"}
	}

	snap := s.dir.Snapshot(ctx)
	tasks := s.reg.Values()

	var found []procdir.Record
	roots := append([]string(nil), cfg.Workspaces...)
	for _, t := range tasks {
		if t.WorkspaceRoot != "" {
			roots = append(roots, t.WorkspaceRoot)
		}
		if t.WatchPID > 0 {
			found = append(found, snap.Descendants(t.WatchPID)...)
		}
	}

	ext, q := s.matchExternal(snap, cfg)
	if q != nil {
		metrics.IncScanTick("prompt")
		return Result{Prompt: q}
	}
	if ext != nil {
		found = append(found, *ext)
	}

	matched := filter(found, cfg.Discriminator, roots)
	res := Result{Candidates: s.withoutSessions(matched)}
	metrics.SetScanCandidates(len(res.Candidates))

	if attacher != nil && len(matched) > 0 {
		res.Cycled = s.cycleStale(ctx, attacher, matched)
	}
	if snap.Len() > 0 {
		res.Cleared = s.clearGone(snap)
	}

	switch {
	case len(res.Candidates) == 1 && attacher != nil:
		c := res.Candidates[0]
		ok, err := attacher.Attach(ctx, c)
		switch {
		case errors.Is(err, coordinator.ErrIneligible):
			s.log.Debug("attach skipped", "pid", c.PID, "reason", err)
		case err != nil:
			s.log.Warn("attach failed", "pid", c.PID, "error", err)
		}
		if ok {
			res.Attached = c.PID
			metrics.IncScanTick("attached")
		} else {
			metrics.IncScanTick("idle")
		}
	case len(res.Candidates) > 1:
		s.log.Debug("ambiguous attach candidates", "count", len(res.Candidates))
		metrics.IncScanTick("ambiguous")
	default:
		metrics.IncScanTick("idle")
	}
	return res
}

// matchExternal finds the cached external process in snap. A respawn with a
// new pid is resolved by policy or turned into a prompt that pauses the scanner.
func (s *Scanner) matchExternal(snap procdir.Snapshot, cfg Config) (*procdir.Record, *Prompt) {
	cached, ok := s.reg.External()
	if !ok {
		return nil, nil
	}
	watch := snap.Filter(func(r procdir.Record) bool {
		return r.CommandLine == cached.CommandLine && procdir.ContainsDiscriminator(r.CommandLine, cfg.Discriminator)
	})
	if len(watch) == 0 {
		return nil, nil
	}
	for _, r := range watch {
		if r.PID == cached.PID {
			rec := r
			return &rec, nil
		}
	}
	rec := watch[0]
	q := Prompt{PID: rec.PID, PreviousPID: cached.PID, CommandLine: rec.CommandLine}

	s.mu.Lock()
	_, sticky := s.always[rec.CommandLine]
	s.mu.Unlock()
	switch {
	case sticky || cfg.Policy == PolicyAlways:
		s.apply(q, DecisionAlways)
		return &rec, nil
	case cfg.Policy == PolicyOnce:
		s.apply(q, DecisionOnce)
		return &rec, nil
	case cfg.Policy == PolicyNever:
		s.apply(q, DecisionDecline)
		return nil, nil
	}

	s.mu.Lock()
	s.pending = &q
	s.mu.Unlock()
	s.log.Info("external watch process respawned, awaiting decision", "pid", rec.PID, "previous_pid", cached.PID)
	return nil, &q
}

// filter keeps debug-build processes under a workspace root, one per parent.
func filter(recs []procdir.Record, discriminator string, roots []string) []procdir.Record {
	seenParent := make(map[int]struct{})
	seenPID := make(map[int]struct{})
	var out []procdir.Record
	for _, r := range recs {
		if !procdir.ContainsDiscriminator(r.CommandLine, discriminator) {
			continue
		}
		if !underAny(procdir.ExecutablePath(r.CommandLine), roots) {
			continue
		}
		if _, ok := seenPID[r.PID]; ok {
			continue
		}
		if _, ok := seenParent[r.PPID]; ok {
			continue
		}
		seenParent[r.PPID] = struct{}{}
		seenPID[r.PID] = struct{}{}
		out = append(out, r)
	}
	return out
}

func underAny(p string, roots []string) bool {
	if p == "" {
		return false
	}
	for _, root := range roots {
		if procdir.HasPathPrefix(p, root) {
			return true
		}
	}
	return false
}

func (s *Scanner) withoutSessions(recs []procdir.Record) []procdir.Record {
	out := make([]procdir.Record, 0, len(recs))
	for _, r := range recs {
		if !s.reg.HasSession(r.PID) {
			out = append(out, r)
		}
	}
	return out
}

// cycleStale soft-disconnects live sessions whose pid is no longer among the
// matched processes, which happens when the watcher restarted the app.
func (s *Scanner) cycleStale(ctx context.Context, a Attacher, matched []procdir.Record) []int {
	alive := make(map[int]struct{}, len(matched))
	for _, r := range matched {
		alive[r.PID] = struct{}{}
	}
	var cycled []int
	for _, e := range s.reg.Sessions() {
		if _, ok := alive[e.PID]; ok || e.Placeholder() {
			continue
		}
		if err := a.Cycle(ctx, e.PID); err != nil {
			s.log.Warn("cycle stale session failed", "pid", e.PID, "error", err)
			continue
		}
		cycled = append(cycled, e.PID)
	}
	return cycled
}

// clearGone forgets disconnect marks of pids that left the process table.
func (s *Scanner) clearGone(snap procdir.Snapshot) []int {
	var cleared []int
	for _, pid := range s.reg.Disconnected() {
		if !snap.Has(pid) {
			s.reg.ClearDisconnected(pid)
			cleared = append(cleared, pid)
		}
	}
	return cleared
}
