// Package routertest provides an in-memory router that plays the server side
// of the LoggerNet protocol for component tests.
//
// Logon and device-open commands are answered automatically with the
// configured outcomes. Everything else is recorded and left for the test to
// answer with Reply. Replies are posted to the dispatcher, so tests drive
// delivery deterministically with Dispatcher().Pump().
package routertest

import (
	"errors"
	"sync"

	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router"
)

// Outcome codes used by the automatic logon and device-open replies.
const (
	OutcomeSuccess uint32 = 1
)

// DefaultInterfaceVersion is reported in logon acks unless overridden.
const DefaultInterfaceVersion = "1.3.6.0"

// Router is a fake router.Router.
type Router struct {
	dispatcher *event.Dispatcher

	mu       sync.Mutex
	sessions map[uint32]router.SessionHandler
	last     uint32
	sent     []*messages.Message
	closed   []uint32

	// InterfaceVersion is returned in logon acks.
	InterfaceVersion string
	// LogonOutcome is returned in logon acks.
	LogonOutcome uint32
	// DeviceOpenOutcome is returned in device-open acks.
	DeviceOpenOutcome uint32
	// AutoLogon answers logon and device-open commands when true.
	AutoLogon bool
	// OpenErr, when set, fails OpenSession.
	OpenErr error
	// SendErr, when set, fails SendMessage.
	SendErr error
	// Respond, when set, is called for every message sent after automatic
	// replies have been queued.
	Respond func(r *Router, msg *messages.Message)
}

// New creates a fake router delivering through d.
func New(d *event.Dispatcher) *Router {
	return &Router{
		dispatcher:        d,
		sessions:          make(map[uint32]router.SessionHandler),
		InterfaceVersion:  DefaultInterfaceVersion,
		LogonOutcome:      OutcomeSuccess,
		DeviceOpenOutcome: OutcomeSuccess,
		AutoLogon:         true,
	}
}

// Dispatcher implements router.Router.
func (r *Router) Dispatcher() *event.Dispatcher {
	return r.dispatcher
}

// OpenSession implements router.Router.
func (r *Router) OpenSession(h router.SessionHandler) (uint32, error) {
	if h == nil {
		return 0, errors.New("routertest: nil handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.OpenErr != nil {
		return 0, r.OpenErr
	}
	r.last++
	r.sessions[r.last] = h
	return r.last, nil
}

// CloseSession implements router.Router.
func (r *Router) CloseSession(session uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session]; ok {
		delete(r.sessions, session)
		r.closed = append(r.closed, session)
	}
}

// SendMessage implements router.Router.
func (r *Router) SendMessage(msg *messages.Message) error {
	r.mu.Lock()
	if r.SendErr != nil {
		r.mu.Unlock()
		return r.SendErr
	}
	if _, ok := r.sessions[msg.Session]; !ok {
		r.mu.Unlock()
		return router.ErrNoSession
	}
	r.sent = append(r.sent, msg)
	auto := r.AutoLogon
	respond := r.Respond
	r.mu.Unlock()

	if auto {
		switch msg.Type {
		case messages.TypeLogonCmd:
			tran := msg.Reader().Uint32()
			r.Reply(messages.New(msg.Session, messages.TypeLogonAck,
				messages.NewWriter().Uint32(tran).Uint32(r.LogonOutcome).String(r.InterfaceVersion)))
		case messages.TypeDeviceOpenCmd:
			tran := msg.Reader().Uint32()
			r.Reply(messages.New(msg.Session, messages.TypeDeviceOpenAck,
				messages.NewWriter().Uint32(tran).Uint32(r.DeviceOpenOutcome)))
		}
	}
	if respond != nil {
		respond(r, msg)
	}
	return nil
}

// Reply posts msg for delivery to the handler of msg.Session. A reply to a
// session that has been closed by the time it is delivered is dropped.
func (r *Router) Reply(msg *messages.Message) {
	r.dispatcher.Post(&event.Func{Fn: func() {
		r.mu.Lock()
		h, ok := r.sessions[msg.Session]
		r.mu.Unlock()
		if ok {
			h.OnMessage(r, msg)
		}
	}})
}

// CloseFromServer posts a server-side close of session.
func (r *Router) CloseFromServer(session uint32, reason router.CloseReason) {
	r.dispatcher.Post(&event.Func{Fn: func() {
		r.mu.Lock()
		h, ok := r.sessions[session]
		delete(r.sessions, session)
		r.mu.Unlock()
		if ok {
			h.OnSessionClosed(r, session, reason)
		}
	}})
}

// Sent returns every message sent so far.
func (r *Router) Sent() []*messages.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*messages.Message(nil), r.sent...)
}

// SentOfType returns the sent messages of type t.
func (r *Router) SentOfType(t messages.Type) []*messages.Message {
	var out []*messages.Message
	for _, m := range r.Sent() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent message of type t, or nil.
func (r *Router) Last(t messages.Type) *messages.Message {
	sent := r.SentOfType(t)
	if len(sent) == 0 {
		return nil
	}
	return sent[len(sent)-1]
}

// Sessions returns the number of open sessions.
func (r *Router) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Closed returns the sessions closed by their owners.
func (r *Router) Closed() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.closed...)
}
