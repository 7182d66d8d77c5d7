package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	id         string
	terminated atomic.Int32
	err        error
}

func (f *fakeExec) ID() string { return f.id }
func (f *fakeExec) Terminate(context.Context) error {
	f.terminated.Add(1)
	return f.err
}

type handle string

func (h handle) ID() string   { return string(h) }
func (h handle) Name() string { return "session " + string(h) }

func TestReserveSetGetRemove(t *testing.T) {
	r := New()
	require.NoError(t, r.Reserve("a"))
	assert.True(t, r.Has("a"))
	_, ok := r.Get("a")
	assert.False(t, ok, "reserved slot is not populated")

	err := r.Reserve("a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSlotTaken))

	r.Set("a", WatchTask{ProjectName: "Api"})
	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, "Api", got.ProjectName)

	removed, ok := r.Remove("a")
	require.True(t, ok)
	assert.Equal(t, "Api", removed.ProjectName)
	assert.False(t, r.Has("a"))

	require.NoError(t, r.Reserve("a"), "slot can be reserved again after removal")
}

func TestValuesInsertionOrderSkipsReserved(t *testing.T) {
	r := New()
	r.Set("b", WatchTask{})
	require.NoError(t, r.Reserve("pending"))
	r.Set("a", WatchTask{})
	vals := r.Values()
	require.Len(t, vals, 2)
	assert.Equal(t, "b", vals[0].ID)
	assert.Equal(t, "a", vals[1].ID)
	assert.Equal(t, []string{"pending"}, r.View().Reserved)
}

func TestExecutionMatching(t *testing.T) {
	r := New()
	ex := &fakeExec{id: "e1"}
	r.Set("t", WatchTask{Execution: ex})

	assert.False(t, r.SetWatchPID("t", "stale", 10))
	assert.True(t, r.SetWatchPID("t", "e1", 10))
	got, _ := r.Get("t")
	assert.Equal(t, 10, got.WatchPID)

	_, ok := r.RemoveExecution("t", "stale")
	assert.False(t, ok)
	assert.True(t, r.Has("t"))
	_, ok = r.RemoveExecution("t", "e1")
	assert.True(t, ok)
	assert.False(t, r.Has("t"))
}

func TestSessionLifecycle(t *testing.T) {
	r := New()
	require.True(t, r.AddSession(42, SessionEntry{Name: "Api - attach", Token: "tok"}))
	assert.False(t, r.AddSession(42, SessionEntry{Name: "dup"}), "one session per pid")

	e, ok := r.PlaceholderByName("Api - attach")
	require.True(t, ok)
	assert.Equal(t, 42, e.PID)
	e, ok = r.SessionByToken("tok")
	require.True(t, ok)
	assert.True(t, e.Placeholder())

	require.True(t, r.ReplaceHandle(42, handle("s1")))
	_, ok = r.PlaceholderByName("Api - attach")
	assert.False(t, ok)
	e, ok = r.SessionByHandle(handle("s1"))
	require.True(t, ok)
	assert.Equal(t, 42, e.PID)
	assert.False(t, e.Placeholder())

	_, ok = r.SessionByToken("")
	assert.False(t, ok)
	assert.False(t, r.ReplaceHandle(7, handle("x")))

	_, ok = r.RemoveSession(42)
	assert.True(t, ok)
	assert.Equal(t, 0, r.SessionCount())
}

func TestDisconnectedExcludesSessions(t *testing.T) {
	r := New()
	require.True(t, r.AddSession(5, SessionEntry{}))
	r.MarkDisconnected(5)
	assert.False(t, r.HasSession(5), "marking disconnected drops the session")
	assert.True(t, r.IsDisconnected(5))
	assert.False(t, r.AddSession(5, SessionEntry{}), "disconnected pid cannot gain a session")

	r.ClearDisconnected(5)
	assert.True(t, r.AddSession(5, SessionEntry{}))
	r.MarkDisconnected(9)
	r.MarkDisconnected(3)
	assert.Equal(t, []int{3, 9}, r.Disconnected())
}

func TestExternalSlot(t *testing.T) {
	r := New()
	_, ok := r.External()
	assert.False(t, ok)
	r.SetExternal(ExternalProcess{PID: 1, CommandLine: "a"})
	r.SetExternal(ExternalProcess{PID: 2, CommandLine: "b"})
	ext, ok := r.External()
	require.True(t, ok)
	assert.Equal(t, 2, ext.PID)
	r.ClearExternal()
	assert.Nil(t, r.View().External)
}

func TestConcurrentAddSessionSingleWinner(t *testing.T) {
	r := New()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.AddSession(77, SessionEntry{}) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestDispose(t *testing.T) {
	r := New()
	ok1 := &fakeExec{id: "1"}
	bad := &fakeExec{id: "2", err: errors.New("boom")}
	r.Set("a", WatchTask{Execution: ok1})
	r.Set("b", WatchTask{Execution: bad})
	require.NoError(t, r.Reserve("c"))
	r.AddSession(1, SessionEntry{})
	r.MarkDisconnected(2)
	r.SetExternal(ExternalProcess{PID: 3})

	err := r.Dispose(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminate 2")
	assert.Equal(t, int32(1), ok1.terminated.Load())
	assert.Equal(t, int32(1), bad.terminated.Load())

	v := r.View()
	assert.Empty(t, v.Tasks)
	assert.Empty(t, v.Reserved)
	assert.Empty(t, v.Sessions)
	assert.Empty(t, v.Disconnected)
	assert.Nil(t, v.External)
}

func TestSessionEntryJSONMarksAttached(t *testing.T) {
	b, err := json.Marshal(SessionEntry{PID: 7, Name: "App", Token: "tok"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pid":7,"name":"App","token":"tok","external":false,"requested_at":"0001-01-01T00:00:00Z","attached":false}`, string(b))

	b, err = json.Marshal(SessionEntry{PID: 7, Name: "App", Handle: handle("s1")})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"attached":true`)
	assert.NotContains(t, string(b), "s1")
}
