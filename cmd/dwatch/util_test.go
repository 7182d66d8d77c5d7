package main

import (
	"bytes"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/murugaratham/dwatch/pkg/client"
)

func TestParseEnv(t *testing.T) {
	got, err := parseEnv([]string{"A=1", "B=x=y", "C="})
	if err != nil {
		t.Fatalf("parseEnv: %v", err)
	}
	want := map[string]string{"A": "1", "B": "x=y", "C": ""}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if _, err := parseEnv([]string{"NOPE"}); err == nil {
		t.Fatalf("expected error for missing '='")
	}
	if got, err := parseEnv(nil); err != nil || got != nil {
		t.Fatalf("nil input: %v %v", got, err)
	}
}

func TestTaskRequestMakesWorkspaceAbsolute(t *testing.T) {
	req, err := taskRequest("src", "Api", "https", []string{"--no-hot-reload"}, []string{"A=1"})
	if err != nil {
		t.Fatalf("taskRequest: %v", err)
	}
	if !filepath.IsAbs(req.Workspace) || filepath.Base(req.Workspace) != "src" {
		t.Fatalf("workspace not absolute: %s", req.Workspace)
	}
	if req.Project != "Api" || req.LaunchProfile != "https" || req.Env["A"] != "1" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestDaemonArgs(t *testing.T) {
	in := []string{"serve", "--daemonize", "--logfile", "/tmp/d.log", "--pidfile", "/tmp/d.pid", "--logfile=/x", "--interactive", "cfg.toml"}
	got := daemonArgs(in)
	want := []string{"serve", "--pidfile", "/tmp/d.pid", "cfg.toml"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestRenderStatus(t *testing.T) {
	st := client.Status{
		Tasks:        []client.Task{{ID: "dotnet-watch:Api/Api.csproj:shop", ProjectName: "Api", WatchPID: 4100, StartedAt: time.Now()}},
		Sessions:     []client.Session{{PID: 4242, Name: "Api - .NET Core Attach - AUTO", Attached: true}, {PID: 4300, Name: "Web"}},
		Disconnected: []int{4000},
		Scanning:     true,
	}
	var buf bytes.Buffer
	renderStatus(&buf, st)
	out := buf.String()
	for _, want := range []string{"Scanner: running", "Api.csproj", "4100", "4242", "attached", "attaching", "disconnected"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	renderStatus(&buf, client.Status{Paused: true, Pending: &client.Prompt{PID: 5, PreviousPID: 4, CommandLine: "dotnet watch"}})
	if !strings.Contains(buf.String(), "Scanner: paused") || !strings.Contains(buf.String(), "pid 5 (was 4)") {
		t.Fatalf("unexpected paused output:\n%s", buf.String())
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{"": "", "/": "", "api": "/api", "/api/": "/api"}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", in, got, want)
		}
	}
}
