// Package dap is a debugger front-end speaking the Debug Adapter Protocol.
// Every attach gets its own adapter connection; session signals are handed
// to a debugger.Listener in the order they were observed.
package dap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/murugaratham/dwatch/internal/debugger"
)

const DefaultHandshakeTimeout = 15 * time.Second

var ErrUnknownSession = errors.New("unknown debug session")

type Config struct {
	// AdapterID is sent in initialize. Defaults to the attach type.
	AdapterID        string
	HandshakeTimeout time.Duration
	Dial             DialFunc
}

type Frontend struct {
	cfg      Config
	listener debugger.Listener
	log      *slog.Logger

	// base bounds every handshake; Close cancels it
	base    context.Context
	cancel  context.CancelFunc
	opening sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
	next     int

	qmu    sync.Mutex
	queue  []func(debugger.Listener)
	wake   chan struct{}
	stop   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

func New(cfg Config, listener debugger.Listener, log *slog.Logger) *Frontend {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	f := &Frontend{
		cfg:      cfg,
		base:     base,
		cancel:   cancel,
		listener: listener,
		log:      log,
		sessions: make(map[string]*Session),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	f.wg.Add(1)
	go f.deliver()
	return f
}

// emit queues a listener call. The queue is unbounded so adapter reads
// never wait on the engine.
func (f *Frontend) emit(call func(debugger.Listener)) {
	f.qmu.Lock()
	if f.closed {
		f.qmu.Unlock()
		return
	}
	f.queue = append(f.queue, call)
	f.qmu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Frontend) deliver() {
	defer f.wg.Done()
	for {
		f.qmu.Lock()
		batch := f.queue
		f.queue = nil
		f.qmu.Unlock()
		for _, call := range batch {
			if f.listener != nil {
				call(f.listener)
			}
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-f.wake:
		case <-f.stop:
			return
		}
	}
}

// StartDebugging connects to a fresh adapter and runs the attach handshake
// in the background. The session start is reported to the listener once the
// adapter accepted the attach; a failed handshake is reported as a
// debugger.KindAttachFailed message carrying the request's name and token.
// Cancelling ctx aborts a handshake still in flight.
func (f *Frontend) StartDebugging(ctx context.Context, cfg debugger.AttachConfig) error {
	if f.cfg.Dial == nil {
		return ErrNoAdapter
	}
	f.mu.Lock()
	if f.base.Err() != nil {
		f.mu.Unlock()
		return fmt.Errorf("attach pid %d: %w", cfg.ProcessID, errClosed)
	}
	f.next++
	id := "dap-" + strconv.Itoa(f.next)
	f.opening.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.opening.Done()
		if err := f.open(ctx, id, cfg); err != nil {
			f.log.Warn("debug attach failed", "session", cfg.Name, "pid", cfg.ProcessID, "error", err)
			failed := debugger.Message{Kind: debugger.KindAttachFailed, Name: cfg.Name, Token: cfg.Token, Err: err}
			f.emit(func(l debugger.Listener) { l.Message(failed) })
		}
	}()
	return nil
}

func (f *Frontend) open(ctx context.Context, id string, cfg debugger.AttachConfig) error {
	hctx, cancel := context.WithTimeout(f.base, f.cfg.HandshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	conn, err := f.cfg.Dial(hctx)
	if err != nil {
		return err
	}
	s := newSession(id, cfg, conn, f.emit, f.log)
	go s.receive()

	adapterID := f.cfg.AdapterID
	if adapterID == "" {
		adapterID = cfg.Type
	}
	if err := s.handshake(hctx, adapterID, cfg); err != nil {
		_ = s.close()
		return fmt.Errorf("attach pid %d: %w", cfg.ProcessID, err)
	}

	f.mu.Lock()
	if f.base.Err() != nil {
		f.mu.Unlock()
		_ = s.close()
		return fmt.Errorf("attach pid %d: %w", cfg.ProcessID, errClosed)
	}
	f.sessions[id] = s
	f.mu.Unlock()
	go func() {
		<-s.Done()
		f.mu.Lock()
		delete(f.sessions, id)
		f.mu.Unlock()
	}()

	started := debugger.SessionStarted{Name: cfg.Name, Token: cfg.Token, Handle: s}
	s.markStarted(func(l debugger.Listener) { l.SessionStarted(started) })
	f.log.Info("debug session attached", "session", cfg.Name, "pid", cfg.ProcessID, "id", id)
	return nil
}

// Disconnect ends the session behind h and drops its adapter connection. An
// adapter that does not answer within the handshake timeout is dropped
// anyway.
func (f *Frontend) Disconnect(ctx context.Context, h debugger.SessionHandle, opts debugger.DisconnectOptions) error {
	if h == nil {
		return ErrUnknownSession
	}
	f.mu.Lock()
	s, ok := f.sessions[h.ID()]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, h.ID())
	}
	dctx, cancel := context.WithTimeout(ctx, f.cfg.HandshakeTimeout)
	defer cancel()
	return s.disconnect(dctx, opts)
}

// Sessions lists the live sessions.
func (f *Frontend) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

// Close aborts pending handshakes, drops every adapter connection and stops
// delivering signals.
func (f *Frontend) Close() error {
	f.mu.Lock()
	f.cancel()
	f.mu.Unlock()
	f.opening.Wait()
	var errs []error
	for _, s := range f.Sessions() {
		if err := s.close(); err != nil {
			errs = append(errs, err)
		}
		<-s.Done()
	}
	f.qmu.Lock()
	if !f.closed {
		f.closed = true
		close(f.stop)
	}
	f.qmu.Unlock()
	f.wg.Wait()
	return errors.Join(errs...)
}
