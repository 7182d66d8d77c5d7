package launcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/murugaratham/dwatch/internal/env"
	"github.com/murugaratham/dwatch/internal/project"
	"github.com/murugaratham/dwatch/internal/prompt"
	"github.com/murugaratham/dwatch/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct{ id string }

func (f *fakeExec) ID() string                      { return f.id }
func (f *fakeExec) Terminate(context.Context) error { return nil }

type fakeRunner struct {
	mu    sync.Mutex
	calls []CommandSpec
	err   error
}

func (f *fakeRunner) Execute(_ context.Context, taskID string, cmd CommandSpec) (registry.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, cmd)
	return &fakeExec{id: "exec-" + taskID}, nil
}

type recordingPrompter struct {
	prompt.Policy
	notes []string
}

func (r *recordingPrompter) Notify(_ prompt.Level, msg string) { r.notes = append(r.notes, msg) }

func writeFile(t *testing.T, root, rel, body string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func newLauncher(t *testing.T, runner Runner) (*Launcher, *registry.Registry, *recordingPrompter) {
	t.Helper()
	reg := registry.New()
	p := &recordingPrompter{Policy: prompt.Policy{Choice: 0}}
	e := env.New().WithOS(false)
	e.Set("GLOBAL", "1")
	l := New(reg, runner, p, Config{Dotnet: "/usr/bin/dotnet", Args: []string{"--no-hot-reload"}, Env: e}, nil)
	return l, reg, p
}

func TestResolveBuildsCommand(t *testing.T) {
	ws := t.TempDir()
	csproj := writeFile(t, ws, "src/Api/Api.csproj", "<Project/>")
	writeFile(t, ws, "src/Api/Properties/launchSettings.json",
		`{"profiles":{"IIS":{"commandName":"IISExpress"},"https":{"commandName":"Project"}}}`)

	l, _, _ := newLauncher(t, &fakeRunner{})
	plan, err := l.Resolve(context.Background(), Descriptor{
		Workspace: ws,
		Args:      []string{"--urls", "http://localhost:5000"},
		Env:       map[string]string{"ASPNETCORE_ENVIRONMENT": "Staging"},
	})
	require.NoError(t, err)

	assert.Equal(t, "dotnet-watch:src/Api/Api.csproj:"+filepath.Base(ws), plan.TaskID)
	assert.Equal(t, "https", plan.LaunchProfile)
	assert.Equal(t, "Watch Api", plan.Command.Name)
	assert.Equal(t, "/usr/bin/dotnet", plan.Command.Program)
	assert.Equal(t, ws, plan.Command.Dir)
	assert.Equal(t, []string{
		"watch", "--project", csproj, "run",
		"--launch-profile", "https",
		"--no-hot-reload",
		"--urls", "http://localhost:5000",
	}, plan.Command.Args)
	assert.Equal(t, []string{
		"ASPNETCORE_ENVIRONMENT=Staging",
		"DOTNET_WATCH_RESTART_ON_RUDE_EDIT=true",
		"GLOBAL=1",
	}, plan.Command.Env)
}

func TestResolveErrors(t *testing.T) {
	l, _, _ := newLauncher(t, &fakeRunner{})
	_, err := l.Resolve(context.Background(), Descriptor{})
	assert.ErrorIs(t, err, project.ErrNoProject)

	ws := t.TempDir()
	_, err = l.Resolve(context.Background(), Descriptor{Workspace: ws, Project: "Missing.csproj"})
	var rerr *project.ResolutionError
	assert.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, project.ErrNotFound)
}

func TestLaunchReservesAndPopulates(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "App/App.csproj", "<Project/>")
	runner := &fakeRunner{}
	l, reg, p := newLauncher(t, runner)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx, Descriptor{Workspace: ws}))
	vals := reg.Values()
	require.Len(t, vals, 1)
	task := vals[0]
	assert.Equal(t, "App", task.ProjectName)
	assert.Equal(t, filepath.Join(ws, "App"), task.ProjectFolderPath)
	assert.Zero(t, task.WatchPID)

	err := l.Start(ctx, Descriptor{Workspace: ws})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, []string{"Task already started for project App"}, p.notes)
	assert.Len(t, runner.calls, 1, "duplicate launch never reaches the runner")

	assert.False(t, l.ProcessStarted(task.ID, "other", 50))
	assert.True(t, l.ProcessStarted(task.ID, "exec-"+task.ID, 50))
	got, _ := reg.Get(task.ID)
	assert.Equal(t, 50, got.WatchPID)

	_, ok := l.TaskEnded(task.ID, "other", nil)
	assert.False(t, ok)
	_, ok = l.TaskEnded(task.ID, "exec-"+task.ID, errors.New("exit status 1"))
	assert.True(t, ok)
	assert.False(t, reg.Has(task.ID))
}

func TestLaunchRunnerFailureReleasesSlot(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "App/App.csproj", "<Project/>")
	runner := &fakeRunner{err: errors.New("dotnet missing")}
	l, reg, p := newLauncher(t, runner)

	plan, err := l.Resolve(context.Background(), Descriptor{Workspace: ws})
	require.NoError(t, err)
	err = l.Launch(context.Background(), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dotnet missing")
	assert.False(t, reg.Has(plan.TaskID))
	require.Len(t, p.notes, 1)
	assert.Contains(t, p.notes[0], "Could not start Watch App")

	runner.err = nil
	require.NoError(t, l.Launch(context.Background(), plan))
}
