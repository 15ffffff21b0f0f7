package loggernet

import (
	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router"
)

// TapiLinesEnumeratorClient receives notifications from a
// TapiLinesEnumerator.
type TapiLinesEnumeratorClient interface {
	OnStarted(e *TapiLinesEnumerator)
	OnFailure(e *TapiLinesEnumerator, failure EnumFailure)
	OnLineAdded(e *TapiLinesEnumerator, line string)
	OnLineRemoved(e *TapiLinesEnumerator, line string)
}

// TapiLinesEnumerator reports the telephony lines known to the server and
// keeps reporting as lines come and go.
type TapiLinesEnumerator struct {
	*devicebase.ClientBase

	sub    subscription
	client TapiLinesEnumeratorClient
}

// NewTapiLinesEnumerator creates an enumerator and registers it with the
// event validator.
func NewTapiLinesEnumerator() *TapiLinesEnumerator {
	e := &TapiLinesEnumerator{}
	e.sub = subscription{
		owner:   e,
		cmd:     messages.TypeTapiLinesEnumCmd,
		ack:     messages.TypeTapiLinesEnumAck,
		stop:    messages.TypeTapiLinesEnumStopCmd,
		notices: []messages.Type{messages.TypeTapiLineAddedNot, messages.TypeTapiLineRemovedNot},
		notice:  e.notice,
		started: func() func() {
			c := e.client
			return func() { c.OnStarted(e) }
		},
		failed: func(f EnumFailure) func() {
			c := e.client
			return func() { c.OnFailure(e, f) }
		},
		reset: func() { e.client = nil },
	}
	e.ClientBase = devicebase.NewClientBase(&e.sub)
	e.sub.base = e.ClientBase
	event.Register(e)
	return e
}

// State returns the component state.
func (e *TapiLinesEnumerator) State() State { return e.sub.state }

// Start begins the enumeration on a new session of r.
func (e *TapiLinesEnumerator) Start(client TapiLinesEnumeratorClient, r router.Router) error {
	return e.start(client, func() error { return e.StartBase(client, r) })
}

// StartShared begins the enumeration on the connection used by other.
func (e *TapiLinesEnumerator) StartShared(client TapiLinesEnumeratorClient, other devicebase.Peer) error {
	return e.start(client, func() error { return e.StartBaseShared(client, other) })
}

func (e *TapiLinesEnumerator) start(client TapiLinesEnumeratorClient, startBase func() error) error {
	if !event.IsValid(client) {
		return ErrInvalidClient
	}
	if err := startBase(); err != nil {
		return err
	}
	e.client = client
	e.sub.begin()
	return nil
}

// Finish stops the enumeration and returns to standby.
func (e *TapiLinesEnumerator) Finish() { e.sub.finish() }

// Close finishes the component and unregisters it.
func (e *TapiLinesEnumerator) Close() {
	e.Finish()
	event.Unregister(e)
}

// Receive implements event.Receiver.
func (e *TapiLinesEnumerator) Receive(ev event.Event) { e.sub.receive(ev) }

func (e *TapiLinesEnumerator) notice(t messages.Type, r *messages.Reader) func() {
	line := r.String()
	if r.Err() != nil {
		return nil
	}
	c := e.client
	if t == messages.TypeTapiLineAddedNot {
		return func() { c.OnLineAdded(e, line) }
	}
	return func() { c.OnLineRemoved(e, line) }
}
