// Package dwatch keeps a debugger attached to .NET applications running under
// "dotnet watch". It launches watch tasks, scans the process table for the
// application processes they spawn, attaches a debug adapter to each one and
// follows them across hot-reload restarts.
package dwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/murugaratham/dwatch/internal/config"
	"github.com/murugaratham/dwatch/internal/dap"
	"github.com/murugaratham/dwatch/internal/debugger"
	"github.com/murugaratham/dwatch/internal/history"
	"github.com/murugaratham/dwatch/internal/history/factory"
	"github.com/murugaratham/dwatch/internal/launcher"
	"github.com/murugaratham/dwatch/internal/manager"
	"github.com/murugaratham/dwatch/internal/metrics"
	"github.com/murugaratham/dwatch/internal/procdir"
	"github.com/murugaratham/dwatch/internal/prompt"
	iapi "github.com/murugaratham/dwatch/internal/server"
)

// Re-export core types for external consumers.

type Config = config.Config

type Descriptor = launcher.Descriptor

type Status = manager.Status

type ProcessView = manager.ProcessView

type Prompter = prompt.Prompter

var (
	ErrAlreadyRunning = launcher.ErrAlreadyRunning
	ErrNoProcess      = manager.ErrNoProcess
	ErrClosed         = manager.ErrClosed
)

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

func DefaultConfig() *Config { return config.Default() }

// WatchConfig calls fn with every valid edit of the file at path.
func WatchConfig(path string, log *slog.Logger, fn func(*Config)) error {
	return config.Watch(path, log, fn)
}

// NewConsolePrompter asks questions on out and reads numbered answers from in.
func NewConsolePrompter(in io.Reader, out io.Writer) Prompter { return prompt.NewConsole(in, out) }

// NewPolicyPrompter answers every question with the item at index choice
// (negative declines) and logs notifications.
func NewPolicyPrompter(choice int, log *slog.Logger) Prompter {
	return prompt.Policy{Choice: choice, Log: log}
}

type Option func(*options)

type options struct {
	prompter  prompt.Prompter
	log       *slog.Logger
	autostart bool
	frontend  func(debugger.Listener) debugger.Frontend
}

func WithPrompter(p Prompter) Option { return func(o *options) { o.prompter = p } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// WithoutAutostart skips the projects marked autostart in the config.
func WithoutAutostart() Option { return func(o *options) { o.autostart = false } }

// Engine is a thin facade over internal/manager.Manager.
type Engine struct {
	inner *manager.Manager
	cfg   *Config
	log   *slog.Logger
}

// New builds an engine from c. History sinks named in the config are opened
// here and closed by Dispose.
func New(c *Config, opts ...Option) (*Engine, error) {
	if c == nil {
		c = config.Default()
	}
	o := options{autostart: true}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log
	if log == nil {
		log = c.Log.NewSlogger()
	}

	lister, err := procdir.NewLister(c.Scanner.ProcessSource)
	if err != nil {
		return nil, err
	}
	lcfg, err := c.LauncherConfig()
	if err != nil {
		return nil, err
	}
	sinks, err := openSinks(c.History.DSN)
	if err != nil {
		return nil, err
	}

	frontend := o.frontend
	if frontend == nil {
		dcfg := dap.Config{
			AdapterID: c.Debugger.Type,
			Dial:      dap.Dialer(c.Debugger.Adapter, c.Debugger.AdapterArgs, c.Debugger.AdapterAddr),
		}
		frontend = func(l debugger.Listener) debugger.Frontend { return dap.New(dcfg, l, log) }
	}
	mo := manager.Options{
		Scanner:      c.ScannerConfig(),
		Coordinator:  c.CoordinatorConfig(),
		Launcher:     lcfg,
		Lister:       lister,
		QueryTimeout: c.Scanner.QueryTimeout,
		Logs:         c.Log,
		StopWait:     c.Watch.StopWait,
		Prompter:     o.prompter,
		Sinks:        sinks,
		Frontend:     frontend,
		Log:          log,
	}
	if o.autostart {
		mo.Autostart = c.Autostart()
	}
	return &Engine{inner: manager.New(mo), cfg: c, log: log}, nil
}

func openSinks(dsns []string) ([]history.Sink, error) {
	var sinks []history.Sink
	for _, dsn := range dsns {
		s, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			closeErr := history.NewEmitter(nil, sinks...).Close()
			return nil, errors.Join(fmt.Errorf("history sink: %w", err), closeErr)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// Run drives the engine until ctx ends, then disposes it.
func (e *Engine) Run(ctx context.Context) error { return e.inner.Run(ctx) }

func (e *Engine) Dispose(ctx context.Context) error { return e.inner.Dispose(ctx) }

func (e *Engine) Done() <-chan struct{} { return e.inner.Done() }

func (e *Engine) StartTask(ctx context.Context, d Descriptor) error {
	return e.inner.StartTask(ctx, d)
}
func (e *Engine) StartScan(ctx context.Context) error { return e.inner.StartScan(ctx) }
func (e *Engine) StopScan(ctx context.Context) error  { return e.inner.StopScan(ctx) }
func (e *Engine) Attach(ctx context.Context, pid int) error {
	return e.inner.Attach(ctx, pid)
}
func (e *Engine) AttachExternal(ctx context.Context, pid int) error {
	return e.inner.AttachExternal(ctx, pid)
}
func (e *Engine) Terminate(ctx context.Context, pid int) error {
	return e.inner.Terminate(ctx, pid)
}
func (e *Engine) Snapshot(ctx context.Context) (Status, error) { return e.inner.Snapshot(ctx) }
func (e *Engine) Processes(ctx context.Context) []ProcessView  { return e.inner.Processes(ctx) }

// Reload applies the reattach policy and workspaces of c. Other settings
// take effect on the next start.
func (e *Engine) Reload(c *Config) {
	e.inner.Reload(c.Policy(), c.Workspaces)
}

// Handler returns the HTTP API of this engine for mounting in another server.
func (e *Engine) Handler(basePath string, withMetrics bool) http.Handler {
	return iapi.NewRouter(e.inner, basePath, withMetrics).Handler()
}

// NewHTTPServer starts an HTTP server exposing the API of e.
func NewHTTPServer(addr, basePath string, e *Engine, withMetrics bool) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, e.inner, withMetrics)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// RegisterSessionMetrics adds per-debuggee CPU and memory gauges for the
// sessions of e.
func RegisterSessionMetrics(r prometheus.Registerer, e *Engine) error {
	return r.Register(metrics.NewSessionCollector(e.inner.SessionTargets))
}

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
