//go:build !windows

package launcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/murugaratham/dwatch/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind   string
	taskID string
	execID string
	pid    int
	err    error
}

type chanListener struct {
	events chan event
}

func (c *chanListener) ProcessStarted(taskID, execID string, pid int) {
	c.events <- event{kind: "started", taskID: taskID, execID: execID, pid: pid}
}

func (c *chanListener) TaskEnded(taskID, execID string, err error) {
	c.events <- event{kind: "ended", taskID: taskID, execID: execID, err: err}
}

func next(t *testing.T, ch <-chan event) event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no runner notification")
		return event{}
	}
}

func TestExecRunnerNotifiesOnceAndLogs(t *testing.T) {
	dir := t.TempDir()
	l := &chanListener{events: make(chan event, 4)}
	r := &ExecRunner{Logs: logger.Config{File: logger.FileConfig{Dir: dir}}, Listener: l}

	ex, err := r.Execute(context.Background(), "t1", CommandSpec{
		Name:    "Watch Api",
		Program: "/bin/sh",
		Args:    []string{"-c", "echo building"},
		Dir:     dir,
	})
	require.NoError(t, err)

	started := next(t, l.events)
	assert.Equal(t, "started", started.kind)
	assert.Equal(t, "t1", started.taskID)
	assert.Equal(t, ex.ID(), started.execID)
	assert.Positive(t, started.pid)

	ended := next(t, l.events)
	assert.Equal(t, "ended", ended.kind)
	assert.Equal(t, ex.ID(), ended.execID)
	assert.NoError(t, ended.err)

	b, err := os.ReadFile(filepath.Join(dir, "Watch_Api.stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "building\n", string(b))
}

func TestExecRunnerTerminate(t *testing.T) {
	l := &chanListener{events: make(chan event, 4)}
	r := &ExecRunner{StopWait: time.Second, Listener: l}
	ex, err := r.Execute(context.Background(), "t2", CommandSpec{Name: "sleep", Program: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)
	assert.Equal(t, "started", next(t, l.events).kind)

	require.NoError(t, ex.Terminate(context.Background()))
	ended := next(t, l.events)
	assert.Equal(t, "ended", ended.kind)
	assert.Error(t, ended.err)
}

func TestExecRunnerStartFailure(t *testing.T) {
	r := &ExecRunner{}
	_, err := r.Execute(context.Background(), "t3", CommandSpec{Program: "/nonexistent/dotnet"})
	assert.Error(t, err)
}
