package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/murugaratham/dwatch/internal/coordinator"
	"github.com/murugaratham/dwatch/internal/launcher"
	mng "github.com/murugaratham/dwatch/internal/manager"
	"github.com/murugaratham/dwatch/internal/procdir"
	"github.com/murugaratham/dwatch/internal/project"
	"github.com/murugaratham/dwatch/internal/registry"
)

type fakeEngine struct {
	mu       sync.Mutex
	calls    []string
	tasks    []launcher.Descriptor
	err      error
	status   mng.Status
	procs    []mng.ProcessView
	scanning bool
}

func (f *fakeEngine) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeEngine) Snapshot(context.Context) (mng.Status, error) {
	if err := f.record("snapshot"); err != nil {
		return mng.Status{}, err
	}
	st := f.status
	st.Scanning = f.scanning
	return st, nil
}

func (f *fakeEngine) Processes(context.Context) []mng.ProcessView {
	_ = f.record("processes")
	return f.procs
}

func (f *fakeEngine) StartTask(_ context.Context, d launcher.Descriptor) error {
	f.mu.Lock()
	f.tasks = append(f.tasks, d)
	f.mu.Unlock()
	return f.record("task")
}

func (f *fakeEngine) StartScan(context.Context) error {
	f.scanning = true
	return f.record("scan-start")
}

func (f *fakeEngine) StopScan(context.Context) error {
	f.scanning = false
	return f.record("scan-stop")
}

func (f *fakeEngine) Attach(_ context.Context, pid int) error {
	return f.record(fmt.Sprintf("attach %d", pid))
}

func (f *fakeEngine) AttachExternal(_ context.Context, pid int) error {
	return f.record(fmt.Sprintf("attach-external %d", pid))
}

func (f *fakeEngine) Terminate(_ context.Context, pid int) error {
	return f.record(fmt.Sprintf("terminate %d", pid))
}

func (f *fakeEngine) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func setupRouter(t *testing.T, base string, eng Engine) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(eng, base, true).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusReportsRegistry(t *testing.T) {
	eng := &fakeEngine{status: mng.Status{View: registry.View{
		Tasks:        []registry.WatchTask{{ID: "dotnet-watch:App/App.csproj:ws", ProjectName: "App", WatchPID: 100}},
		Sessions:     []registry.SessionEntry{{PID: 101, Name: "App - .NET Core Attach - AUTO"}},
		Disconnected: []int{99},
	}}}
	h := setupRouter(t, "/api/", eng)

	rec := doReq(t, h, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var st mng.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if len(st.Tasks) != 1 || st.Tasks[0].WatchPID != 100 {
		t.Fatalf("unexpected tasks: %+v", st.Tasks)
	}
	if len(st.Sessions) != 1 || st.Sessions[0].PID != 101 {
		t.Fatalf("unexpected sessions: %+v", st.Sessions)
	}
	if len(st.Disconnected) != 1 || st.Disconnected[0] != 99 {
		t.Fatalf("unexpected disconnected: %v", st.Disconnected)
	}
}

func TestProcessesNeverNull(t *testing.T) {
	h := setupRouter(t, "", &fakeEngine{})
	rec := doReq(t, h, http.MethodGet, "/processes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("expected empty array, got %s", got)
	}

	eng := &fakeEngine{procs: []mng.ProcessView{{Record: procdir.Record{PID: 101, PPID: 100}, Attached: true}}}
	h = setupRouter(t, "", eng)
	rec = doReq(t, h, http.MethodGet, "/processes", nil)
	var arr []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &arr); err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if len(arr) != 1 || arr[0]["pid"] != float64(101) || arr[0]["attached"] != true {
		t.Fatalf("unexpected processes: %v", arr)
	}
}

func TestScanStartStop(t *testing.T) {
	eng := &fakeEngine{}
	h := setupRouter(t, "/x", eng)
	if rec := doReq(t, h, http.MethodPost, "/x/scan/start", nil); rec.Code != http.StatusOK {
		t.Fatalf("scan start expected 200, got %d", rec.Code)
	}
	if !eng.scanning {
		t.Fatalf("scan not started")
	}
	if rec := doReq(t, h, http.MethodPost, "/x/scan/stop", nil); rec.Code != http.StatusOK {
		t.Fatalf("scan stop expected 200, got %d", rec.Code)
	}
	if eng.scanning {
		t.Fatalf("scan not stopped")
	}
	if rec := doReq(t, h, http.MethodGet, "/x/scan/start", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("GET scan start expected 404, got %d", rec.Code)
	}
}

func TestAttachAndTerminate(t *testing.T) {
	eng := &fakeEngine{}
	h := setupRouter(t, "", eng)

	rec := doReq(t, h, http.MethodPost, "/attach?pid=101", nil)
	if rec.Code != http.StatusOK || eng.lastCall() != "attach 101" {
		t.Fatalf("attach: %d %q", rec.Code, eng.lastCall())
	}
	rec = doReq(t, h, http.MethodPost, "/attach?pid=202&external=true", nil)
	if rec.Code != http.StatusOK || eng.lastCall() != "attach-external 202" {
		t.Fatalf("attach external: %d %q", rec.Code, eng.lastCall())
	}
	rec = doReq(t, h, http.MethodPost, "/terminate?pid=101", nil)
	if rec.Code != http.StatusOK || eng.lastCall() != "terminate 101" {
		t.Fatalf("terminate: %d %q", rec.Code, eng.lastCall())
	}
	rec = doReq(t, h, http.MethodPost, "/attach", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("attach without pid expected 400, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodPost, "/terminate?pid=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("terminate bad pid expected 400, got %d", rec.Code)
	}
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: 7", mng.ErrNoProcess), http.StatusNotFound},
		{coordinator.ErrUnknownPID, http.StatusNotFound},
		{coordinator.ErrIneligible, http.StatusUnprocessableEntity},
		{mng.ErrClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		h := setupRouter(t, "", &fakeEngine{err: c.err})
		rec := doReq(t, h, http.MethodPost, "/attach?pid=7", nil)
		if rec.Code != c.want {
			t.Fatalf("%v: expected %d, got %d", c.err, c.want, rec.Code)
		}
		var e errorResp
		if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e.Error == "" {
			t.Fatalf("%v: missing error body: %s", c.err, rec.Body.String())
		}
	}
}

func TestStartTask(t *testing.T) {
	eng := &fakeEngine{}
	h := setupRouter(t, "", eng)
	ws := filepath.Join(t.TempDir(), "ws")
	d := launcher.Descriptor{Workspace: ws, Project: "App", LaunchProfile: "https"}

	rec := doReq(t, h, http.MethodPost, "/tasks", d)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(eng.tasks) != 1 || eng.tasks[0].Project != "App" || eng.tasks[0].LaunchProfile != "https" {
		t.Fatalf("unexpected descriptor: %+v", eng.tasks)
	}

	eng.err = fmt.Errorf("%w: App", launcher.ErrAlreadyRunning)
	rec = doReq(t, h, http.MethodPost, "/tasks", d)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate expected 409, got %d", rec.Code)
	}

	eng.err = &project.ResolutionError{Descriptor: "Nope", Hint: "check the project name", Err: project.ErrNotFound}
	rec = doReq(t, h, http.MethodPost, "/tasks", d)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unresolvable expected 400, got %d", rec.Code)
	}
}

func TestStartTaskRejectsBadInput(t *testing.T) {
	eng := &fakeEngine{}
	h := setupRouter(t, "", eng)

	if rec := doReq(t, h, http.MethodPost, "/tasks", launcher.Descriptor{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing workspace expected 400, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/tasks", launcher.Descriptor{Workspace: "rel/ws"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("relative workspace expected 400, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid JSON expected 400, got %d", rec.Code)
	}
	if len(eng.tasks) != 0 {
		t.Fatalf("engine should not be called: %+v", eng.tasks)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupRouter(t, "", &fakeEngine{})
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics expected 200, got %d", rec.Code)
	}

	gin.SetMode(gin.TestMode)
	off := NewRouter(&fakeEngine{}, "", false).Handler()
	if rec := doReq(t, off, http.MethodGet, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled metrics expected 404, got %d", rec.Code)
	}
}

func TestNewServerStartClose(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", "/x", &fakeEngine{}, false)
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	_ = srv.Close()
}
