package loggernet

import (
	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router"
)

// ViewEntry maps a name in a server view to the device it stands for.
type ViewEntry struct {
	Name       string
	DeviceName string
}

// ViewMapperClient receives notifications from a ViewMapper.
type ViewMapperClient interface {
	OnStarted(m *ViewMapper)
	OnFailure(m *ViewMapper, failure EnumFailure)
	OnEntryAdded(m *ViewMapper, entry ViewEntry)
	OnEntryRemoved(m *ViewMapper, name string)
}

// ViewMapper follows the entries of a named server view.
type ViewMapper struct {
	*devicebase.ClientBase

	viewName string

	sub    subscription
	client ViewMapperClient
}

// NewViewMapper creates a view mapper and registers it with the event
// validator.
func NewViewMapper() *ViewMapper {
	m := &ViewMapper{}
	m.sub = subscription{
		owner:   m,
		cmd:     messages.TypeViewMapCmd,
		ack:     messages.TypeViewMapAck,
		stop:    messages.TypeViewMapStopCmd,
		notices: []messages.Type{messages.TypeViewEntryAddedNot, messages.TypeViewEntryRemovedNot},
		params:  func(w *messages.Writer) { w.String(m.viewName) },
		notice:  m.notice,
		started: func() func() {
			c := m.client
			return func() { c.OnStarted(m) }
		},
		failed: func(f EnumFailure) func() {
			c := m.client
			return func() { c.OnFailure(m, f) }
		},
		reset: func() { m.client = nil },
	}
	m.ClientBase = devicebase.NewClientBase(&m.sub)
	m.sub.base = m.ClientBase
	event.Register(m)
	return m
}

// State returns the component state.
func (m *ViewMapper) State() State { return m.sub.state }

// SetViewName sets the view to follow.
func (m *ViewMapper) SetViewName(name string) error {
	if err := m.CheckStandby(); err != nil {
		return err
	}
	m.viewName = name
	return nil
}

// ViewName returns the view name.
func (m *ViewMapper) ViewName() string { return m.viewName }

// Start begins following the view on a new session of r.
func (m *ViewMapper) Start(client ViewMapperClient, r router.Router) error {
	return m.start(client, func() error { return m.StartBase(client, r) })
}

// StartShared begins following the view on the connection used by other.
func (m *ViewMapper) StartShared(client ViewMapperClient, other devicebase.Peer) error {
	return m.start(client, func() error { return m.StartBaseShared(client, other) })
}

func (m *ViewMapper) start(client ViewMapperClient, startBase func() error) error {
	if !event.IsValid(client) {
		return ErrInvalidClient
	}
	if err := startBase(); err != nil {
		return err
	}
	m.client = client
	m.sub.begin()
	return nil
}

// Finish stops following the view and returns to standby.
func (m *ViewMapper) Finish() { m.sub.finish() }

// Close finishes the component and unregisters it.
func (m *ViewMapper) Close() {
	m.Finish()
	event.Unregister(m)
}

// Receive implements event.Receiver.
func (m *ViewMapper) Receive(ev event.Event) { m.sub.receive(ev) }

func (m *ViewMapper) notice(t messages.Type, r *messages.Reader) func() {
	c := m.client
	name := r.String()
	if t == messages.TypeViewEntryRemovedNot {
		if r.Err() != nil {
			return nil
		}
		return func() { c.OnEntryRemoved(m, name) }
	}
	entry := ViewEntry{Name: name, DeviceName: r.String()}
	if r.Err() != nil {
		return nil
	}
	return func() { c.OnEntryAdded(m, entry) }
}
