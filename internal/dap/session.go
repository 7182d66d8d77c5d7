package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/go-dap"

	"github.com/murugaratham/dwatch/internal/debugger"
)

var errClosed = errors.New("adapter connection closed")

// request is the wire shape of every outgoing request.
type request struct {
	dap.Request
	Arguments any `json:"arguments,omitempty"`
}

// Session is one adapter connection carrying one attach. It is the
// debugger.SessionHandle handed to the engine.
type Session struct {
	id     string
	name   string
	token  string
	pid    int
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	emit   func(func(debugger.Listener))
	log    *slog.Logger

	wmu sync.Mutex
	seq int

	mu          sync.Mutex
	pending     map[int]chan *dap.Response
	initialized chan struct{}
	initOnce    sync.Once
	started     bool
	ended       bool
	done        chan struct{}
	closeOnce   sync.Once
}

func newSession(id string, cfg debugger.AttachConfig, conn io.ReadWriteCloser, emit func(func(debugger.Listener)), log *slog.Logger) *Session {
	return &Session{
		id:          id,
		name:        cfg.Name,
		token:       cfg.Token,
		pid:         cfg.ProcessID,
		conn:        conn,
		reader:      bufio.NewReader(conn),
		emit:        emit,
		log:         log.With("session", cfg.Name, "pid", cfg.ProcessID),
		pending:     make(map[int]chan *dap.Response),
		initialized: make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Name() string { return s.name }
func (s *Session) PID() int     { return s.pid }

// Done is closed once the adapter connection is gone.
func (s *Session) Done() <-chan struct{} { return s.done }

// send writes a request and returns the channel its response arrives on.
func (s *Session) send(command string, args any) (chan *dap.Response, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.seq++
	seq := s.seq
	ch := make(chan *dap.Response, 1)

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil, errClosed
	}
	s.pending[seq] = ch
	s.mu.Unlock()

	body, err := json.Marshal(request{
		Request:   dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "request"}, Command: command},
		Arguments: args,
	})
	if err == nil {
		err = dap.WriteBaseMessage(s.conn, body)
	}
	if err != nil {
		s.mu.Lock()
		delete(s.pending, seq)
		s.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", command, err)
	}
	return ch, nil
}

func (s *Session) await(ctx context.Context, command string, ch chan *dap.Response) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", command, ctx.Err())
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", command, errClosed)
		}
		if !resp.Success {
			return fmt.Errorf("%s rejected: %s", command, resp.Message)
		}
		return nil
	}
}

func (s *Session) call(ctx context.Context, command string, args any) error {
	ch, err := s.send(command, args)
	if err != nil {
		return err
	}
	return s.await(ctx, command, ch)
}

// handshake runs initialize, attach and configurationDone. The attach
// response may arrive only after configurationDone, so it is awaited last.
func (s *Session) handshake(ctx context.Context, adapterID string, cfg debugger.AttachConfig) error {
	err := s.call(ctx, "initialize", dap.InitializeRequestArguments{
		ClientID:        "dwatch",
		ClientName:      "dwatch",
		AdapterID:       adapterID,
		PathFormat:      "path",
		LinesStartAt1:   true,
		ColumnsStartAt1: true,
	})
	if err != nil {
		return err
	}
	cfg.Request = "attach"
	attached, err := s.send("attach", cfg)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("initialized: %w", ctx.Err())
	case <-s.initialized:
	case resp, ok := <-attached:
		if !ok {
			return fmt.Errorf("attach: %w", errClosed)
		}
		if !resp.Success {
			return fmt.Errorf("attach rejected: %s", resp.Message)
		}
		attached <- resp
	}
	if err := s.call(ctx, "configurationDone", nil); err != nil {
		return err
	}
	return s.await(ctx, "attach", attached)
}

// markStarted flips the session live and queues notify under the same lock
// that guards message emission, so the start is always reported first.
func (s *Session) markStarted(notify func(debugger.Listener)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.emit(notify)
}

func (s *Session) message(m debugger.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	if m.Kind == debugger.KindTerminated {
		if s.ended {
			return
		}
		s.ended = true
	}
	m.Handle, m.Name, m.Token = s, s.name, s.token
	s.emit(func(l debugger.Listener) { l.Message(m) })
}

// disconnect sends the disconnect request and closes the connection.
func (s *Session) disconnect(ctx context.Context, opts debugger.DisconnectOptions) error {
	s.message(debugger.Message{Kind: debugger.KindDisconnect, Restart: opts.Restart, Soft: opts.Soft})
	err := s.call(ctx, "disconnect", dap.DisconnectArguments{
		Restart:           opts.Restart,
		TerminateDebuggee: opts.TerminateDebuggee,
	})
	if cerr := s.close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Session) close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

// receive decodes adapter traffic until the connection drops. Its end is
// reported as a terminated signal unless the adapter already sent one.
func (s *Session) receive() {
	defer func() {
		s.mu.Lock()
		for seq, ch := range s.pending {
			close(ch)
			delete(s.pending, seq)
		}
		s.mu.Unlock()
		s.message(debugger.Message{Kind: debugger.KindTerminated})
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
		_ = s.close()
		close(s.done)
	}()

	for {
		body, err := dap.ReadBaseMessage(s.reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("adapter read ended", "error", err)
			}
			return
		}
		msg, err := dap.DecodeProtocolMessage(body)
		if err != nil {
			s.log.Debug("skip undecodable adapter message", "error", err)
			continue
		}
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg dap.Message) {
	switch m := msg.(type) {
	case *dap.InitializedEvent:
		s.initOnce.Do(func() { close(s.initialized) })
	case *dap.TerminatedEvent:
		s.message(debugger.Message{Kind: debugger.KindTerminated, Restart: restartRequested(m.Body.Restart)})
	case *dap.ExitedEvent:
		s.message(debugger.Message{Kind: debugger.KindExited, ExitCode: m.Body.ExitCode})
	case *dap.InitializeResponse:
		s.resolve(&m.Response)
	case *dap.AttachResponse:
		s.resolve(&m.Response)
	case *dap.ConfigurationDoneResponse:
		s.resolve(&m.Response)
	case *dap.DisconnectResponse:
		s.resolve(&m.Response)
	case *dap.ErrorResponse:
		s.resolve(&m.Response)
	default:
		s.log.Debug("ignored adapter message", "type", fmt.Sprintf("%T", msg))
	}
}

func (s *Session) resolve(resp *dap.Response) {
	s.mu.Lock()
	ch, ok := s.pending[resp.RequestSeq]
	delete(s.pending, resp.RequestSeq)
	s.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// restartRequested interprets the terminated event's restart field, which
// may carry any JSON value.
func restartRequested(v any) bool {
	switch r := v.(type) {
	case nil:
		return false
	case bool:
		return r
	case json.RawMessage:
		v := string(r)
		return v != "" && v != "null" && v != "false"
	default:
		return true
	}
}
