package dwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startEngine(t *testing.T, c *Config) *Engine {
	t.Helper()
	e, err := New(c, WithLogger(quietLogger()), WithPrompter(NewPolicyPrompter(-1, quietLogger())))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e
}

func TestEngineFacadeSnapshot(t *testing.T) {
	c := DefaultConfig()
	c.History.DSN = []string{filepath.Join(t.TempDir(), "history.db")}
	e := startEngine(t, c)

	st, err := e.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(st.Tasks) != 0 || len(st.Sessions) != 0 || st.Scanning {
		t.Fatalf("unexpected status: %+v", st)
	}

	if err := e.StartScan(context.Background()); err != nil {
		t.Fatalf("start scan: %v", err)
	}
	st, _ = e.Snapshot(context.Background())
	if !st.Scanning {
		t.Fatalf("scanner should be running")
	}
	if err := e.StopScan(context.Background()); err != nil {
		t.Fatalf("stop scan: %v", err)
	}
}

func TestEngineFacadeAttachUnknownPID(t *testing.T) {
	e := startEngine(t, DefaultConfig())
	err := e.Attach(context.Background(), 1<<30)
	if !errors.Is(err, ErrNoProcess) {
		t.Fatalf("expected ErrNoProcess, got %v", err)
	}
}

func TestEngineFacadeRejectsBadConfig(t *testing.T) {
	c := DefaultConfig()
	c.Scanner.ProcessSource = "bogus"
	if _, err := New(c, WithLogger(quietLogger())); err == nil {
		t.Fatalf("expected error for unknown process source")
	}

	c = DefaultConfig()
	c.History.DSN = []string{"mysql://nope"}
	if _, err := New(c, WithLogger(quietLogger())); err == nil {
		t.Fatalf("expected error for unsupported history DSN")
	}
}

func TestEngineFacadeHandler(t *testing.T) {
	e := startEngine(t, DefaultConfig())
	h := e.Handler("/api", false)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDisposeAfterRun(t *testing.T) {
	e, err := New(DefaultConfig(), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	go func() { _ = e.Run(context.Background()) }()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Dispose(ctx); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	select {
	case <-e.Done():
	case <-ctx.Done():
		t.Fatalf("engine did not stop")
	}
	if err := e.StartScan(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after dispose, got %v", err)
	}
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	e := startEngine(t, DefaultConfig())
	if err := RegisterSessionMetrics(reg, e); err != nil {
		t.Fatalf("register session metrics: %v", err)
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}
