package loggernet

import (
	"log/slog"

	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router"
)

// CommResourceManagerClient receives notifications from a
// CommResourceManager.
type CommResourceManagerClient interface {
	// OnStarted is called once the server holds the communication resource.
	OnStarted(m *CommResourceManager)
	// OnFailure is called when the resource is released or could not be
	// acquired. The manager is in standby by then.
	OnFailure(m *CommResourceManager, failure ConnectionFailure)
}

// CommResourceManager keeps the communication resources for a device
// reserved. Servers with interface version 1.3.6 or later are asked
// directly; older servers are driven through an owned ConnectionManager
// whose notifications are relayed to the client unchanged.
type CommResourceManager struct {
	*devicebase.DeviceBase

	priority Priority

	state     State
	client    CommResourceManagerClient
	tran      uint32
	started   bool
	cancelled bool

	delegate *ConnectionManager
	relay    *resourceRelay
}

type resourceEvent struct {
	event.Base
	started bool
	failure ConnectionFailure
}

// resourceRelay is the client of the fallback ConnectionManager.
type resourceRelay struct {
	m *CommResourceManager
}

func (r *resourceRelay) OnStarted(*ConnectionManager) {
	r.m.postStarted()
}

func (r *resourceRelay) OnFailure(_ *ConnectionManager, f ConnectionFailure) {
	r.m.postFailure(f)
}

// NewCommResourceManager creates a manager and registers it with the event
// validator.
func NewCommResourceManager() *CommResourceManager {
	m := &CommResourceManager{priority: PriorityNormal}
	m.DeviceBase = devicebase.NewDeviceBase(m)
	event.Register(m)
	return m
}

// State returns the component state.
func (m *CommResourceManager) State() State { return m.state }

// UsingFallback reports whether the current transaction runs through a
// ConnectionManager because the server predates the resource transaction.
func (m *CommResourceManager) UsingFallback() bool { return m.delegate != nil }

// SetPriority sets the resource priority.
func (m *CommResourceManager) SetPriority(p Priority) error {
	if err := m.CheckStandby(); err != nil {
		return err
	}
	m.priority = p
	return nil
}

// Start begins the transaction on a new session of r.
func (m *CommResourceManager) Start(client CommResourceManagerClient, r router.Router) error {
	return m.start(client, func() error { return m.StartBase(client, r) })
}

// StartShared begins the transaction on the connection used by other.
func (m *CommResourceManager) StartShared(client CommResourceManagerClient, other devicebase.Peer) error {
	return m.start(client, func() error { return m.StartBaseShared(client, other) })
}

func (m *CommResourceManager) start(client CommResourceManagerClient, startBase func() error) error {
	if !event.IsValid(client) {
		return ErrInvalidClient
	}
	if err := startBase(); err != nil {
		return err
	}
	m.client = client
	m.state = StateDelegate
	m.started = false
	m.cancelled = false
	return nil
}

// Cancel releases the resource. The client receives OnFailure with
// ConnectionFailureCancelled.
//
// Unlike the clock and file transactions there is no cancelVersion check:
// the release is the stop that Finish sends for the subscription, which
// every server accepts. Servers older than resourceManageVersion get the
// connection manage stop from the owned ConnectionManager instead.
func (m *CommResourceManager) Cancel() error {
	switch m.state {
	case StateDelegate, StateActive:
		if m.cancelled {
			return nil
		}
		m.cancelled = true
	default:
		return ErrInvalidState
	}
	m.postFailure(ConnectionFailureCancelled)
	return nil
}

// Finish releases the resource and returns to standby.
func (m *CommResourceManager) Finish() {
	if m.delegate != nil {
		m.delegate.Close()
		event.Unregister(m.relay)
		m.delegate = nil
		m.relay = nil
	} else if m.state == StateActive && m.Session() != 0 {
		if err := m.Send(messages.TypeResourceManageStopCmd, messages.NewWriter().Uint32(m.tran)); err != nil {
			m.Logger().Debug("resource stop not sent", slog.Any("error", err))
		}
	}
	m.state = StateStandby
	m.client = nil
	m.tran = 0
	m.started = false
	m.FinishBase()
}

// Close finishes the component and unregisters it.
func (m *CommResourceManager) Close() {
	m.Finish()
	event.Unregister(m)
}

// OnBaseReady implements devicebase.Hooks.
func (m *CommResourceManager) OnBaseReady() {
	if m.cancelled {
		return
	}
	m.state = StateActive
	if m.InterfaceVersion().AtLeast(resourceManageVersion) {
		m.tran = m.NewTranNo()
		w := messages.NewWriter().Uint32(m.tran).Uint32(uint32(m.priority))
		if err := m.Send(messages.TypeResourceManageCmd, w); err != nil {
			m.postFailure(ConnectionFailureSession)
		}
		return
	}

	m.Logger().Debug("server predates resource manage, using connection manager",
		slog.String("version", m.InterfaceVersion().String()))
	m.relay = &resourceRelay{m: m}
	event.Register(m.relay)
	m.delegate = NewConnectionManager()
	_ = m.delegate.SetPriority(m.priority)
	_ = m.delegate.SetDeviceName(m.DeviceName())
	_ = m.delegate.SetLogger(m.Logger())
	if err := m.delegate.StartShared(m.relay, m); err != nil {
		m.Logger().Debug("connection manager start failed", slog.Any("error", err))
		m.postFailure(ConnectionFailureSession)
	}
}

// OnBaseFailure implements devicebase.Hooks.
func (m *CommResourceManager) OnBaseFailure(f devicebase.Failure) {
	m.postFailure(connectionFailureFromBase(f))
}

// OnBaseSessionFailure implements devicebase.Hooks.
func (m *CommResourceManager) OnBaseSessionFailure() {
	m.postFailure(ConnectionFailureSession)
}

// OnNetMessage implements devicebase.Hooks.
func (m *CommResourceManager) OnNetMessage(msg *messages.Message) {
	if m.state != StateActive || m.delegate != nil {
		m.HandleNetMessage(msg)
		return
	}
	switch msg.Type {
	case messages.TypeResourceManageAck, messages.TypeResourceManageStatusNot:
		r, tran, code := ackHeader(msg)
		if r.Err() != nil || tran != m.tran {
			return
		}
		failure, ok := decodeManageStatus(code)
		if !ok {
			m.postFailure(failure)
			return
		}
		if code == manageConnected {
			m.postStarted()
		}
	default:
		m.HandleNetMessage(msg)
	}
}

func (m *CommResourceManager) postStarted() {
	if m.started {
		return
	}
	m.started = true
	m.Post(&resourceEvent{Base: event.Base{Dest: m, Client: m.Client()}, started: true})
}

func (m *CommResourceManager) postFailure(f ConnectionFailure) {
	m.Post(&resourceEvent{Base: event.Base{Dest: m, Client: m.Client()}, failure: f})
}

// Receive implements event.Receiver.
func (m *CommResourceManager) Receive(ev event.Event) {
	e, ok := ev.(*resourceEvent)
	if !ok {
		return
	}
	current, callable := accept(m.DeviceBase.ClientBase, e.Client)
	if !current {
		return
	}
	client := m.client
	if e.started {
		if callable {
			client.OnStarted(m)
		} else {
			m.Finish()
		}
		return
	}
	m.Logger().Debug("resource manager failed", slog.String("outcome", e.failure.String()))
	m.Finish()
	if callable {
		client.OnFailure(m, e.failure)
	}
}
