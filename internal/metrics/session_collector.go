package metrics

import (
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// SessionTarget identifies a debuggee process to sample.
type SessionTarget struct {
	PID  int
	Name string
}

// SessionCollector samples CPU and memory of the processes currently under a
// debugger at scrape time. Targets are pulled from the provided function so the
// collector never holds engine state.
type SessionCollector struct {
	targets func() []SessionTarget

	cpuDesc     *prometheus.Desc
	rssDesc     *prometheus.Desc
	threadsDesc *prometheus.Desc
}

func NewSessionCollector(targets func() []SessionTarget) *SessionCollector {
	labels := []string{"pid", "session"}
	return &SessionCollector{
		targets: targets,
		cpuDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "debuggee", "cpu_percent"),
			"CPU usage of the debuggee process.", labels, nil),
		rssDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "debuggee", "memory_rss_bytes"),
			"Resident memory of the debuggee process.", labels, nil),
		threadsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "debuggee", "threads"),
			"Thread count of the debuggee process.", labels, nil),
	}
}

func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpuDesc
	ch <- c.rssDesc
	ch <- c.threadsDesc
}

func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	if c.targets == nil {
		return
	}
	for _, t := range c.targets() {
		proc, err := process.NewProcess(int32(t.PID))
		if err != nil {
			continue
		}
		pid := strconv.Itoa(t.PID)
		if cpu, err := proc.CPUPercent(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.cpuDesc, prometheus.GaugeValue, cpu, pid, t.Name)
		} else {
			slog.Debug("debuggee cpu sample failed", "pid", t.PID, "error", err)
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.rssDesc, prometheus.GaugeValue, float64(mem.RSS), pid, t.Name)
		}
		if n, err := proc.NumThreads(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.threadsDesc, prometheus.GaugeValue, float64(n), pid, t.Name)
		}
	}
}
