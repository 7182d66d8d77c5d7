package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dwatch"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "procdir",
			Name:      "query_duration_seconds",
			Help:      "Duration of OS process table queries.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"source"},
	)
	processQueryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "procdir",
			Name:      "query_errors_total",
			Help:      "Number of failed process table queries.",
		}, []string{"source"},
	)
	scanTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "ticks_total",
			Help:      "Number of scan ticks by outcome.",
		}, []string{"outcome"},
	)
	scanCandidates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "candidates",
			Help:      "Attach candidates left after filtering in the last tick.",
		},
	)
	reattachDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "reattach_decisions_total",
			Help:      "Decisions taken when an external watch process respawned.",
		}, []string{"decision"},
	)
	attaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "debug",
			Name:      "attaches_total",
			Help:      "Number of attach requests issued to the debugger.",
		}, []string{"kind"},
	)
	detaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "debug",
			Name:      "detaches_total",
			Help:      "Number of debug session endings by reason.",
		}, []string{"reason"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "debug",
			Name:      "active_sessions",
			Help:      "Debug sessions currently tracked, placeholders included.",
		},
	)
	taskStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "starts_total",
			Help:      "Number of watch tasks started.",
		}, []string{"project"},
	)
	taskEnds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "ends_total",
			Help:      "Number of watch tasks that ended or were terminated.",
		}, []string{"project"},
	)
	activeTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "active",
			Help:      "Watch tasks currently held in the registry.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processQueryDuration, processQueryErrors,
		scanTicks, scanCandidates, reattachDecisions,
		attaches, detaches, activeSessions,
		taskStarts, taskEnds, activeTasks,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveProcessQuery(source string, seconds float64) {
	if regOK.Load() {
		processQueryDuration.WithLabelValues(source).Observe(seconds)
	}
}

func IncProcessQueryError(source string) {
	if regOK.Load() {
		processQueryErrors.WithLabelValues(source).Inc()
	}
}

func IncScanTick(outcome string) {
	if regOK.Load() {
		scanTicks.WithLabelValues(outcome).Inc()
	}
}

func SetScanCandidates(n int) {
	if regOK.Load() {
		scanCandidates.Set(float64(n))
	}
}

func IncReattachDecision(decision string) {
	if regOK.Load() {
		reattachDecisions.WithLabelValues(decision).Inc()
	}
}

func IncAttach(kind string) {
	if regOK.Load() {
		attaches.WithLabelValues(kind).Inc()
	}
}

func IncDetach(reason string) {
	if regOK.Load() {
		detaches.WithLabelValues(reason).Inc()
	}
}

func SetActiveSessions(n int) {
	if regOK.Load() {
		activeSessions.Set(float64(n))
	}
}

func IncTaskStart(project string) {
	if regOK.Load() {
		taskStarts.WithLabelValues(project).Inc()
	}
}

func IncTaskEnd(project string) {
	if regOK.Load() {
		taskEnds.WithLabelValues(project).Inc()
	}
}

func SetActiveTasks(n int) {
	if regOK.Load() {
		activeTasks.Set(float64(n))
	}
}
