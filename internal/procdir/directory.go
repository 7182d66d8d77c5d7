package procdir

import (
	"context"
	"log/slog"
	"time"

	"github.com/murugaratham/dwatch/internal/metrics"
)

const DefaultQueryTimeout = 3 * time.Second

// Lister reads the OS process table.
type Lister interface {
	List(ctx context.Context) ([]Record, error)
	Name() string
}

// Directory answers process queries. It holds no state between queries.
// Failures never propagate: they are logged and reported as an empty result.
type Directory struct {
	lister  Lister
	timeout time.Duration
	log     *slog.Logger
}

func New(lister Lister, timeout time.Duration, log *slog.Logger) *Directory {
	if lister == nil {
		lister = GopsutilLister{}
	}
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Directory{lister: lister, timeout: timeout, log: log.With("component", "procdir")}
}

// Snapshot queries the OS once, bounded by the directory timeout.
func (d *Directory) Snapshot(ctx context.Context) Snapshot {
	qctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	start := time.Now()
	recs, err := d.lister.List(qctx)
	metrics.ObserveProcessQuery(d.lister.Name(), time.Since(start).Seconds())
	if err != nil {
		metrics.IncProcessQueryError(d.lister.Name())
		d.log.Warn("process query failed", "source", d.lister.Name(), "error", err)
		return NewSnapshot(nil)
	}
	return NewSnapshot(recs)
}

// List returns every process when scopePID <= 0, otherwise only the processes
// transitively parented by scopePID. An empty result is not an error.
func (d *Directory) List(ctx context.Context, scopePID int) []Record {
	snap := d.Snapshot(ctx)
	if scopePID <= 0 {
		return snap.All()
	}
	return snap.Descendants(scopePID)
}
