package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/murugaratham/dwatch/internal/launcher"
	mng "github.com/murugaratham/dwatch/internal/manager"
	"github.com/murugaratham/dwatch/internal/procdir"
	"github.com/murugaratham/dwatch/internal/registry"
	"github.com/murugaratham/dwatch/internal/server"
)

type daemonStub struct {
	mu    sync.Mutex
	calls []string
}

func (d *daemonStub) note(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, s)
	return nil
}

func (d *daemonStub) Snapshot(context.Context) (mng.Status, error) {
	return mng.Status{View: registry.View{
		Tasks: []registry.WatchTask{{ID: "dotnet-watch:Api/Api.csproj:shop", ProjectName: "Api", WatchPID: 4100}},
	}, Scanning: true}, nil
}

func (d *daemonStub) Processes(context.Context) []mng.ProcessView {
	return []mng.ProcessView{{Record: procdir.Record{PID: 4242, PPID: 4100, CommandLine: "/src/Api/bin/Debug/net8.0/Api"}, Attached: true}}
}

func (d *daemonStub) StartTask(_ context.Context, desc launcher.Descriptor) error {
	return d.note("task " + desc.Project)
}
func (d *daemonStub) StartScan(context.Context) error { return d.note("scan start") }
func (d *daemonStub) StopScan(context.Context) error  { return d.note("scan stop") }
func (d *daemonStub) Attach(_ context.Context, pid int) error {
	return d.note(fmt.Sprintf("attach %d", pid))
}
func (d *daemonStub) AttachExternal(_ context.Context, pid int) error {
	return d.note(fmt.Sprintf("external %d", pid))
}
func (d *daemonStub) Terminate(_ context.Context, pid int) error {
	return d.note(fmt.Sprintf("terminate %d", pid))
}

func runCLI(t *testing.T, stub *daemonStub, args ...string) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ts := httptest.NewServer(server.NewRouter(stub, "/api", false).Handler())
	defer ts.Close()

	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(append([]string{"--api-url", ts.URL + "/api"}, args...))
	if err := root.Execute(); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out.String()
}

func TestStatusCommand(t *testing.T) {
	out := runCLI(t, &daemonStub{}, "status", "--processes")
	for _, want := range []string{"Scanner: running", "Api.csproj", "4100", "4242", "attached"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	out = runCLI(t, &daemonStub{}, "status", "--json")
	var st map[string]any
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("json: %v\n%s", err, out)
	}
	if st["scanning"] != true {
		t.Fatalf("unexpected status json: %v", st)
	}
}

func TestControlCommands(t *testing.T) {
	stub := &daemonStub{}
	runCLI(t, stub, "scan", "start")
	runCLI(t, stub, "attach", "4242")
	runCLI(t, stub, "attach", "5000", "--external")
	runCLI(t, stub, "terminate", "4242")
	runCLI(t, stub, "scan", "stop")
	runCLI(t, stub, "start", t.TempDir(), "--project", "Api")
	want := []string{"scan start", "attach 4242", "external 5000", "terminate 4242", "scan stop", "task Api"}
	if strings.Join(stub.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v want %v", stub.calls, want)
	}
}
