// Package router carries LoggerNet messages between components and the
// server.
//
// A Router multiplexes many logical sessions over one connection. Each
// session is owned by exactly one SessionHandler; messages arriving for the
// session are handed to that handler on the dispatcher goroutine, never on
// the goroutine that read them from the network.
//
// # Sessions
//
//	component           Router                 server
//	    │  OpenSession   │                        │
//	    │───────────────>│ allocate session n     │
//	    │  SendMessage   │                        │
//	    │───────────────>│──── frames ───────────>│
//	    │                │<─── frames ────────────│
//	    │<── OnMessage ──│ (posted to dispatcher) │
//	    │                │<─── SESSION_CLOSED ────│
//	    │<── OnSessionClosed(reason)              │
//
// Session 0 is reserved for router control traffic. A session closed by the
// owner with CloseSession produces no OnSessionClosed callback.
package router

import (
	"errors"
	"fmt"

	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
)

var (
	// ErrClosed is returned when the router has been closed or its transport failed.
	ErrClosed = errors.New("router closed")
	// ErrNoSession is returned when a message is sent on a session that is not open.
	ErrNoSession = errors.New("session not open")
)

// CloseReason says why a session ended without its owner closing it.
type CloseReason int

const (
	// CloseReasonUnknown is the zero value.
	CloseReasonUnknown CloseReason = iota
	// CloseReasonServer means the server closed the session.
	CloseReasonServer
	// CloseReasonTransport means the connection to the server failed.
	CloseReasonTransport
	// CloseReasonRouterClosed means the router was shut down locally.
	CloseReasonRouterClosed
)

// String returns the string representation of the close reason.
func (r CloseReason) String() string {
	switch r {
	case CloseReasonServer:
		return "ServerClosed"
	case CloseReasonTransport:
		return "TransportFailed"
	case CloseReasonRouterClosed:
		return "RouterClosed"
	default:
		return fmt.Sprintf("Unknown(%d)", r)
	}
}

// SessionHandler owns a session. Both methods run on the dispatcher goroutine.
type SessionHandler interface {
	OnMessage(r Router, msg *messages.Message)
	OnSessionClosed(r Router, session uint32, reason CloseReason)
}

// Router is the contract between components and the message transport.
type Router interface {
	// OpenSession allocates a new session owned by h.
	OpenSession(h SessionHandler) (uint32, error)
	// CloseSession releases a session. Closing an unknown session is a no-op.
	CloseSession(session uint32)
	// SendMessage sends msg on msg.Session.
	SendMessage(msg *messages.Message) error
	// Dispatcher returns the dispatcher that delivers this router's callbacks.
	Dispatcher() *event.Dispatcher
}
