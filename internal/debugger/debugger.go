// Package debugger holds the contract between the engine and a debugger
// front-end: how attach is requested, how a session is addressed and which
// protocol signals come back.
package debugger

import "context"

// AttachConfig is the payload of an attach request. Token is a per-request
// correlation id the front-end must hand back in SessionStarted.
type AttachConfig struct {
	Type      string `json:"type"`
	Request   string `json:"request"`
	Name      string `json:"name"`
	ProcessID int    `json:"processId"`
	Token     string `json:"correlationToken,omitempty"`
}

// SessionHandle addresses a live debug session.
type SessionHandle interface {
	ID() string
	Name() string
}

// DisconnectOptions mirror the protocol's disconnect arguments. Soft marks a
// disconnect issued by the engine itself while cycling a stale session.
type DisconnectOptions struct {
	Restart           bool
	TerminateDebuggee bool
	Soft              bool
}

// Frontend starts and stops debug sessions. StartDebugging returns once the
// request is issued; the session itself, or its failure, is reported later
// through a Listener. Neither method may block on the debug adapter beyond a
// bounded time.
type Frontend interface {
	StartDebugging(ctx context.Context, cfg AttachConfig) error
	Disconnect(ctx context.Context, h SessionHandle, opts DisconnectOptions) error
}

// SessionStarted reports that a requested session is now live.
type SessionStarted struct {
	Name   string
	Token  string
	Handle SessionHandle
}

type MessageKind string

const (
	KindDisconnect MessageKind = "disconnect" // disconnect request sent to the adapter
	KindTerminated MessageKind = "terminated" // adapter ended the session
	KindExited     MessageKind = "exited"     // debuggee exited
	KindOther      MessageKind = "other"

	// KindAttachFailed reports a requested session that never started. Only
	// Name, Token and Err are set.
	KindAttachFailed MessageKind = "attach_failed"
)

// Message is a protocol signal observed on a session.
type Message struct {
	Kind     MessageKind
	Handle   SessionHandle
	Name     string
	Token    string
	Restart  bool
	Soft     bool
	ExitCode int
	Err      error
}

// Terminal reports whether m is an explicit end of the session. Restart and
// soft disconnects, exits and unrecognised messages are not.
func (m Message) Terminal() bool {
	if m.Restart || m.Soft {
		return false
	}
	return m.Kind == KindDisconnect || m.Kind == KindTerminated
}

// Listener receives session lifecycle signals from a Frontend.
type Listener interface {
	SessionStarted(SessionStarted)
	Message(Message)
}

// ListenerFuncs adapts two functions to a Listener. Nil fields are ignored.
type ListenerFuncs struct {
	OnStarted func(SessionStarted)
	OnMessage func(Message)
}

func (l ListenerFuncs) SessionStarted(s SessionStarted) {
	if l.OnStarted != nil {
		l.OnStarted(s)
	}
}

func (l ListenerFuncs) Message(m Message) {
	if l.OnMessage != nil {
		l.OnMessage(m)
	}
}
