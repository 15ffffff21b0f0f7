package loggernet

import (
	"fmt"

	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router"
)

// ResourceState is the state of a pooled communication resource.
type ResourceState uint32

// Resource states.
const (
	ResourceStateUnknown ResourceState = iota
	ResourceStateAvailable
	ResourceStateInUse
	ResourceStateReserved
	ResourceStateOffline
)

// String returns the string representation of the resource state.
func (s ResourceState) String() string {
	switch s {
	case ResourceStateAvailable:
		return "Available"
	case ResourceStateInUse:
		return "InUse"
	case ResourceStateReserved:
		return "Reserved"
	case ResourceStateOffline:
		return "Offline"
	case ResourceStateUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(s))
	}
}

// Resource is a pooled communication resource (a modem, a serial port).
type Resource struct {
	Name  string
	State ResourceState
	// Owner is the device currently using the resource, if any.
	Owner string
}

// PooledResourcesMonitorClient receives notifications from a
// PooledResourcesMonitor.
type PooledResourcesMonitorClient interface {
	OnStarted(m *PooledResourcesMonitor)
	OnFailure(m *PooledResourcesMonitor, failure EnumFailure)
	OnResourceAdded(m *PooledResourcesMonitor, res Resource)
	OnResourceChanged(m *PooledResourcesMonitor, res Resource)
	OnResourceRemoved(m *PooledResourcesMonitor, name string)
}

// PooledResourcesMonitor follows the state of the server's pooled
// communication resources.
type PooledResourcesMonitor struct {
	*devicebase.ClientBase

	sub    subscription
	client PooledResourcesMonitorClient
}

// NewPooledResourcesMonitor creates a monitor and registers it with the
// event validator.
func NewPooledResourcesMonitor() *PooledResourcesMonitor {
	m := &PooledResourcesMonitor{}
	m.sub = subscription{
		owner: m,
		cmd:   messages.TypeResourcesEnumCmd,
		ack:   messages.TypeResourcesEnumAck,
		stop:  messages.TypeResourcesEnumStopCmd,
		notices: []messages.Type{
			messages.TypeResourceAddedNot,
			messages.TypeResourceChangedNot,
			messages.TypeResourceRemovedNot,
		},
		notice: m.notice,
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
func (m *PooledResourcesMonitor) State() State { return m.sub.state }

// Start begins monitoring on a new session of r.
func (m *PooledResourcesMonitor) Start(client PooledResourcesMonitorClient, r router.Router) error {
	return m.start(client, func() error { return m.StartBase(client, r) })
}

// StartShared begins monitoring on the connection used by other.
func (m *PooledResourcesMonitor) StartShared(client PooledResourcesMonitorClient, other devicebase.Peer) error {
	return m.start(client, func() error { return m.StartBaseShared(client, other) })
}

func (m *PooledResourcesMonitor) start(client PooledResourcesMonitorClient, startBase func() error) error {
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

// Finish stops monitoring and returns to standby.
func (m *PooledResourcesMonitor) Finish() { m.sub.finish() }

// Close finishes the component and unregisters it.
func (m *PooledResourcesMonitor) Close() {
	m.Finish()
	event.Unregister(m)
}

// Receive implements event.Receiver.
func (m *PooledResourcesMonitor) Receive(ev event.Event) { m.sub.receive(ev) }

func (m *PooledResourcesMonitor) notice(t messages.Type, r *messages.Reader) func() {
	c := m.client
	name := r.String()
	if t == messages.TypeResourceRemovedNot {
		if r.Err() != nil {
			return nil
		}
		return func() { c.OnResourceRemoved(m, name) }
	}
	res := Resource{Name: name, State: ResourceState(r.Uint32()), Owner: r.String()}
	if r.Err() != nil {
		return nil
	}
	if t == messages.TypeResourceAddedNot {
		return func() { c.OnResourceAdded(m, res) }
	}
	return func() { c.OnResourceChanged(m, res) }
}
