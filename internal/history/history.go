package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of attach or task lifecycle event.
type EventType string

const (
	EventAttach         EventType = "attach"
	EventDetach         EventType = "detach"     // session cycled or restarted, task kept
	EventDisconnect     EventType = "disconnect" // genuine end of a session
	EventTaskStart      EventType = "task_start"
	EventTaskEnd        EventType = "task_end"
	EventTaskTerminated EventType = "task_terminated"
)

// Record carries the subject of an event.
type Record struct {
	TaskID  string `json:"task_id,omitempty"`
	Project string `json:"project,omitempty"`
	PID     int    `json:"pid,omitempty"`
	Session string `json:"session,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

func NewEvent(t EventType, r Record) Event {
	return Event{Type: t, OccurredAt: time.Now().UTC(), Record: r}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultSendTimeout bounds a single Send issued by an Emitter.
const DefaultSendTimeout = 5 * time.Second

// Emitter fans events out to sinks in the background so the engine loop never
// waits on a database. A nil *Emitter drops events.
type Emitter struct {
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

func NewEmitter(log *slog.Logger, sinks ...Sink) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{sinks: sinks, log: log, timeout: DefaultSendTimeout}
}

func (em *Emitter) Emit(e Event) {
	if em == nil || len(em.sinks) == 0 {
		return
	}
	em.mu.Lock()
	if em.closed {
		em.mu.Unlock()
		return
	}
	em.wg.Add(1)
	em.mu.Unlock()
	go func() {
		defer em.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), em.timeout)
		defer cancel()
		for _, s := range em.sinks {
			if err := s.Send(ctx, e); err != nil {
				em.log.Warn("history send failed", "type", e.Type, "error", err)
			}
		}
	}()
}

// Close waits for in-flight sends and closes sinks that hold resources.
func (em *Emitter) Close() error {
	if em == nil {
		return nil
	}
	em.mu.Lock()
	em.closed = true
	em.mu.Unlock()
	em.wg.Wait()
	var errs []error
	for _, s := range em.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
