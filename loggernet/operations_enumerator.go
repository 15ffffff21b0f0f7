package loggernet

import (
	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router"
)

// Operation is a server operation such as a scheduled collection or a
// manual poll.
type Operation struct {
	ID          uint32
	Priority    uint32
	Description string
	State       string
}

// OperationsEnumeratorClient receives notifications from an
// OperationsEnumerator.
type OperationsEnumeratorClient interface {
	OnStarted(e *OperationsEnumerator)
	OnFailure(e *OperationsEnumerator, failure EnumFailure)
	OnOperationAdded(e *OperationsEnumerator, op Operation)
	OnOperationChanged(e *OperationsEnumerator, op Operation)
	OnOperationRemoved(e *OperationsEnumerator, id uint32)
}

// OperationsEnumerator follows the operations running on the server.
type OperationsEnumerator struct {
	*devicebase.ClientBase

	sub    subscription
	client OperationsEnumeratorClient
}

// NewOperationsEnumerator creates an enumerator and registers it with the
// event validator.
func NewOperationsEnumerator() *OperationsEnumerator {
	e := &OperationsEnumerator{}
	e.sub = subscription{
		owner: e,
		cmd:   messages.TypeOperationsEnumCmd,
		ack:   messages.TypeOperationsEnumAck,
		stop:  messages.TypeOperationsEnumStopCmd,
		notices: []messages.Type{
			messages.TypeOperationAddedNot,
			messages.TypeOperationChangedNot,
			messages.TypeOperationRemovedNot,
		},
		notice: e.notice,
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
func (e *OperationsEnumerator) State() State { return e.sub.state }

// Start begins the enumeration on a new session of r.
func (e *OperationsEnumerator) Start(client OperationsEnumeratorClient, r router.Router) error {
	return e.start(client, func() error { return e.StartBase(client, r) })
}

// StartShared begins the enumeration on the connection used by other.
func (e *OperationsEnumerator) StartShared(client OperationsEnumeratorClient, other devicebase.Peer) error {
	return e.start(client, func() error { return e.StartBaseShared(client, other) })
}

func (e *OperationsEnumerator) start(client OperationsEnumeratorClient, startBase func() error) error {
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
func (e *OperationsEnumerator) Finish() { e.sub.finish() }

// Close finishes the component and unregisters it.
func (e *OperationsEnumerator) Close() {
	e.Finish()
	event.Unregister(e)
}

// Receive implements event.Receiver.
func (e *OperationsEnumerator) Receive(ev event.Event) { e.sub.receive(ev) }

func (e *OperationsEnumerator) notice(t messages.Type, r *messages.Reader) func() {
	c := e.client
	id := r.Uint32()
	if t == messages.TypeOperationRemovedNot {
		if r.Err() != nil {
			return nil
		}
		return func() { c.OnOperationRemoved(e, id) }
	}
	op := Operation{ID: id, Priority: r.Uint32(), Description: r.String(), State: r.String()}
	if r.Err() != nil {
		return nil
	}
	if t == messages.TypeOperationAddedNot {
		return func() { c.OnOperationAdded(e, op) }
	}
	return func() { c.OnOperationChanged(e, op) }
}
