// Package launcher starts dotnet watch tasks for resolved projects and keeps
// their registry slots in step with the runner.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/murugaratham/dwatch/internal/env"
	"github.com/murugaratham/dwatch/internal/metrics"
	"github.com/murugaratham/dwatch/internal/project"
	"github.com/murugaratham/dwatch/internal/prompt"
	"github.com/murugaratham/dwatch/internal/registry"
)

// Source prefixes every task id.
const Source = "dotnet-watch"

var ErrAlreadyRunning = errors.New("task already started")

// DefaultEnv is applied to every watch task unless already set.
var DefaultEnv = map[string]string{
	"DOTNET_WATCH_RESTART_ON_RUDE_EDIT": "true",
	"ASPNETCORE_ENVIRONMENT":            "Development",
}

// Descriptor is a launch request before project resolution.
type Descriptor struct {
	Workspace     string            `json:"workspace"`
	Project       string            `json:"project,omitempty"`
	LaunchProfile string            `json:"launch_profile,omitempty"`
	Args          []string          `json:"args,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
}

// CommandSpec is what the runner executes.
type CommandSpec struct {
	Name    string   `json:"name"`
	Program string   `json:"program"`
	Args    []string `json:"args"`
	Dir     string   `json:"dir"`
	Env     []string `json:"env"`
}

// Plan is a resolved, ready to run launch.
type Plan struct {
	TaskID        string          `json:"task_id"`
	Project       project.Project `json:"project"`
	LaunchProfile string          `json:"launch_profile,omitempty"`
	Command       CommandSpec     `json:"command"`
}

// Runner executes a command and returns its execution handle. It must later
// report ProcessStarted exactly once and TaskEnded to its Listener.
type Runner interface {
	Execute(ctx context.Context, taskID string, cmd CommandSpec) (registry.Execution, error)
}

// Listener receives the runner's asynchronous notifications.
type Listener interface {
	ProcessStarted(taskID, execID string, pid int)
	TaskEnded(taskID, execID string, err error)
}

type Config struct {
	Dotnet string   // dotnet host, default "dotnet"
	Args   []string // extra arguments appended to every watch command
	Env    *env.Env // global environment; defaults are added on top
}

type Launcher struct {
	reg      *registry.Registry
	runner   Runner
	prompter prompt.Prompter
	cfg      Config
	log      *slog.Logger
}

func New(reg *registry.Registry, runner Runner, p prompt.Prompter, cfg Config, log *slog.Logger) *Launcher {
	if cfg.Dotnet == "" {
		cfg.Dotnet = "dotnet"
	}
	if cfg.Env == nil {
		cfg.Env = env.New()
	}
	cfg.Env.WithDefaults(DefaultEnv)
	if log == nil {
		log = slog.Default()
	}
	return &Launcher{reg: reg, runner: runner, prompter: p, cfg: cfg, log: log}
}

// TaskID derives the registry key from static information only, so the slot
// can be reserved before the task runs.
func TaskID(p project.Project) string {
	return Source + ":" + p.Rel() + ":" + filepath.Base(p.Workspace)
}

// TaskName is the label used for the task and its log files.
func TaskName(p project.Project) string { return "Watch " + p.Name }

// Resolve turns d into a Plan. It may block on the prompter and must not run
// on the engine loop.
func (l *Launcher) Resolve(ctx context.Context, d Descriptor) (Plan, error) {
	if d.Workspace == "" {
		return Plan{}, &project.ResolutionError{Descriptor: d.Project, Hint: "set a workspace", Err: project.ErrNoProject}
	}
	ws, err := filepath.Abs(d.Workspace)
	if err != nil {
		return Plan{}, fmt.Errorf("workspace %s: %w", d.Workspace, err)
	}
	proj, err := project.Resolve(ctx, ws, d.Project, l.prompter)
	if err != nil {
		return Plan{}, err
	}
	profiles, err := project.LoadProfiles(proj.Folder)
	if err != nil {
		l.log.Warn("launch settings unreadable", "project", proj.Name, "error", err)
		profiles = nil
	}
	profile, err := project.SelectProfile(ctx, profiles, d.LaunchProfile, l.prompter)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		TaskID:        TaskID(proj),
		Project:       proj,
		LaunchProfile: profile,
		Command:       l.command(proj, profile, d),
	}, nil
}

func (l *Launcher) command(p project.Project, profile string, d Descriptor) CommandSpec {
	args := []string{"watch", "--project", p.Path, "run"}
	if profile != "" {
		args = append(args, "--launch-profile", profile)
	}
	args = append(args, l.cfg.Args...)
	args = append(args, d.Args...)

	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	perTask := make([]string, 0, len(keys))
	for _, k := range keys {
		perTask = append(perTask, k+"="+d.Env[k])
	}
	return CommandSpec{
		Name:    TaskName(p),
		Program: l.cfg.Dotnet,
		Args:    args,
		Dir:     p.Workspace,
		Env:     l.cfg.Env.Merge(perTask),
	}
}

// Launch reserves the task slot, runs the command and populates the slot with
// the execution handle. A slot that already exists is reported to the user and
// returned as ErrAlreadyRunning. Launch must run on the engine loop.
func (l *Launcher) Launch(ctx context.Context, p Plan) error {
	if err := l.reg.Reserve(p.TaskID); err != nil {
		l.notify(prompt.LevelInfo, "Task already started for project "+p.Project.Name)
		l.log.Debug("duplicate launch ignored", "task", p.TaskID)
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, p.Project.Name)
	}
	ex, err := l.runner.Execute(ctx, p.TaskID, p.Command)
	if err != nil {
		l.reg.Remove(p.TaskID)
		l.notify(prompt.LevelError, fmt.Sprintf("Could not start %s: %v", TaskName(p.Project), err))
		return fmt.Errorf("start %s: %w", p.TaskID, err)
	}
	l.reg.Set(p.TaskID, registry.WatchTask{
		WorkspaceRoot:     p.Project.Workspace,
		ProjectPath:       p.Project.Path,
		ProjectFolderPath: p.Project.Folder,
		ProjectName:       p.Project.Name,
		LaunchProfile:     p.LaunchProfile,
		StartedAt:         time.Now(),
		Execution:         ex,
	})
	metrics.IncTaskStart(p.Project.Name)
	metrics.SetActiveTasks(len(l.reg.Values()))
	l.log.Info("watch task started", "task", p.TaskID, "exec", ex.ID(), "profile", p.LaunchProfile)
	return nil
}

// Start resolves and launches in one call for callers that own the loop.
func (l *Launcher) Start(ctx context.Context, d Descriptor) error {
	p, err := l.Resolve(ctx, d)
	if err != nil {
		return err
	}
	return l.Launch(ctx, p)
}

// ProcessStarted records the watch pid reported by the runner.
func (l *Launcher) ProcessStarted(taskID, execID string, pid int) bool {
	ok := l.reg.SetWatchPID(taskID, execID, pid)
	if ok {
		l.log.Debug("watch process started", "task", taskID, "pid", pid)
	}
	return ok
}

// TaskEnded drops the slot if it still belongs to execID.
func (l *Launcher) TaskEnded(taskID, execID string, err error) (registry.WatchTask, bool) {
	t, ok := l.reg.RemoveExecution(taskID, execID)
	if !ok {
		return t, false
	}
	metrics.IncTaskEnd(t.ProjectName)
	metrics.SetActiveTasks(len(l.reg.Values()))
	if err != nil {
		l.log.Info("watch task ended", "task", taskID, "error", err)
	} else {
		l.log.Info("watch task ended", "task", taskID)
	}
	return t, true
}

func (l *Launcher) notify(level prompt.Level, msg string) {
	if l.prompter != nil {
		l.prompter.Notify(level, msg)
	}
}
