package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/murugaratham/dwatch/internal/coordinator"
	"github.com/murugaratham/dwatch/internal/launcher"
	mng "github.com/murugaratham/dwatch/internal/manager"
	"github.com/murugaratham/dwatch/internal/metrics"
	"github.com/murugaratham/dwatch/internal/project"
)

// Engine is the part of the manager the HTTP API drives.
type Engine interface {
	Snapshot(ctx context.Context) (mng.Status, error)
	Processes(ctx context.Context) []mng.ProcessView
	StartTask(ctx context.Context, d launcher.Descriptor) error
	StartScan(ctx context.Context) error
	StopScan(ctx context.Context) error
	Attach(ctx context.Context, pid int) error
	AttachExternal(ctx context.Context, pid int) error
	Terminate(ctx context.Context, pid int) error
}

// Router provides embeddable HTTP handlers for the status display.
// Endpoints:
//
//	GET  {basePath}/status
//	GET  {basePath}/processes
//	POST {basePath}/scan/start
//	POST {basePath}/scan/stop
//	POST {basePath}/attach      query: pid=...&external=true (external optional)
//	POST {basePath}/terminate   query: pid=...
//	POST {basePath}/tasks       body: launcher.Descriptor JSON
//	GET  {basePath}/metrics     only when metrics are enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	eng      Engine
	basePath string
	metrics  bool
	timeout  time.Duration
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(eng Engine, basePath string, withMetrics bool) *Router {
	return &Router{eng: eng, basePath: sanitizeBase(basePath), metrics: withMetrics, timeout: 30 * time.Second}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/processes", r.handleProcesses)
	group.POST("/scan/start", r.handleScan(true))
	group.POST("/scan/stop", r.handleScan(false))
	group.POST("/attach", r.handleAttach)
	group.POST("/terminate", r.handleTerminate)
	group.POST("/tasks", r.handleStartTask)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, eng Engine, withMetrics bool) (*http.Server, error) {
	r := NewRouter(eng, basePath, withMetrics)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// attach waits for the adapter handshake
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), r.timeout)
}

func (r *Router) handleStatus(c *gin.Context) {
	ctx, cancel := r.ctx(c)
	defer cancel()
	st, err := r.eng.Snapshot(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleProcesses(c *gin.Context) {
	ctx, cancel := r.ctx(c)
	defer cancel()
	procs := r.eng.Processes(ctx)
	if procs == nil {
		procs = []mng.ProcessView{}
	}
	writeJSON(c, http.StatusOK, procs)
}

func (r *Router) handleScan(start bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := r.ctx(c)
		defer cancel()
		var err error
		if start {
			err = r.eng.StartScan(ctx)
		} else {
			err = r.eng.StopScan(ctx)
		}
		if err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleAttach(c *gin.Context) {
	pid, ok := queryPID(c)
	if !ok {
		return
	}
	external, _ := strconv.ParseBool(c.DefaultQuery("external", "false"))
	ctx, cancel := r.ctx(c)
	defer cancel()
	var err error
	if external {
		err = r.eng.AttachExternal(ctx, pid)
	} else {
		err = r.eng.Attach(ctx, pid)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleTerminate(c *gin.Context) {
	pid, ok := queryPID(c)
	if !ok {
		return
	}
	ctx, cancel := r.ctx(c)
	defer cancel()
	if err := r.eng.Terminate(ctx, pid); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStartTask(c *gin.Context) {
	var d launcher.Descriptor
	if err := c.ShouldBindJSON(&d); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if d.Workspace == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "workspace required"})
		return
	}
	if !isSafeAbsPath(d.Workspace) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid workspace: must be absolute path without traversal"})
		return
	}
	ctx, cancel := r.ctx(c)
	defer cancel()
	if err := r.eng.StartTask(ctx, d); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var re *project.ResolutionError
	switch {
	case errors.Is(err, launcher.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, mng.ErrNoProcess), errors.Is(err, coordinator.ErrUnknownPID):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrIneligible):
		return http.StatusUnprocessableEntity
	case errors.As(err, &re), errors.Is(err, project.ErrNotFound), errors.Is(err, project.ErrAmbiguous), errors.Is(err, project.ErrNoProject):
		return http.StatusBadRequest
	case errors.Is(err, mng.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
}
