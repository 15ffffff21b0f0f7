package loggernet

import (
	"io"
	"log/slog"

	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router"
)

// Priority is the priority of a manual connection request.
type Priority uint32

// Connection priorities understood by the server.
const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
)

// ConnectionFailure says why a managed connection ended.
type ConnectionFailure int

// Connection failures. Unmapped server codes decode to ConnectionFailureUnknown.
const (
	ConnectionFailureUnknown ConnectionFailure = iota
	ConnectionFailureSession
	ConnectionFailureInvalidLogon
	ConnectionFailureSecurityBlocked
	ConnectionFailureUnsupported
	ConnectionFailureInvalidDeviceName
	ConnectionFailureCommFailed
	ConnectionFailureCommDisabled
	ConnectionFailureBlockedByServer
	ConnectionFailureCancelled
)

var connectionFailureText = map[ConnectionFailure]text{
	ConnectionFailureUnknown:           {"Unknown", "an unrecognised connection failure"},
	ConnectionFailureSession:           {"SessionFailed", "the session with the server failed"},
	ConnectionFailureInvalidLogon:      {"InvalidLogon", "invalid user name or password"},
	ConnectionFailureSecurityBlocked:   {"SecurityBlocked", "server security blocked the connection request"},
	ConnectionFailureUnsupported:       {"Unsupported", "the server does not support connection management"},
	ConnectionFailureInvalidDeviceName: {"InvalidDeviceName", "invalid device name"},
	ConnectionFailureCommFailed:        {"CommFailed", "the connection to the device failed"},
	ConnectionFailureCommDisabled:      {"CommDisabled", "communication with the device is disabled"},
	ConnectionFailureBlockedByServer:   {"BlockedByServer", "the server refused to hold the connection"},
	ConnectionFailureCancelled:         {"Cancelled", "the connection request was cancelled"},
}

// String returns the name of the failure.
func (f ConnectionFailure) String() string { return enumName(connectionFailureText, f) }

// Describe writes a description of the failure.
func (f ConnectionFailure) Describe(w io.Writer) { enumDescribe(w, connectionFailureText, f) }

func connectionFailureFromBase(f devicebase.Failure) ConnectionFailure {
	switch f {
	case devicebase.FailureSession:
		return ConnectionFailureSession
	case devicebase.FailureInvalidLogon:
		return ConnectionFailureInvalidLogon
	case devicebase.FailureSecurityBlocked:
		return ConnectionFailureSecurityBlocked
	case devicebase.FailureUnsupported:
		return ConnectionFailureUnsupported
	case devicebase.FailureInvalidDeviceName:
		return ConnectionFailureInvalidDeviceName
	default:
		return ConnectionFailureUnknown
	}
}

// Status codes carried by connection and resource manage acks and
// notifications.
const (
	manageOK              uint32 = 1
	manageCommFailed      uint32 = 2
	manageCommDisabled    uint32 = 3
	manageBlockedByServer uint32 = 4
	manageUnsupported     uint32 = 5
	manageConnected       uint32 = 6
)

// decodeManageStatus maps a manage status code. ok is true for codes that
// do not end the subscription.
func decodeManageStatus(code uint32) (f ConnectionFailure, ok bool) {
	switch code {
	case manageOK, manageConnected:
		return ConnectionFailureUnknown, true
	case manageCommFailed:
		return ConnectionFailureCommFailed, false
	case manageCommDisabled:
		return ConnectionFailureCommDisabled, false
	case manageBlockedByServer:
		return ConnectionFailureBlockedByServer, false
	case manageUnsupported:
		return ConnectionFailureUnsupported, false
	default:
		return ConnectionFailureUnknown, false
	}
}

// ConnectionManagerClient receives notifications from a ConnectionManager.
type ConnectionManagerClient interface {
	// OnStarted is called once the server holds the connection open.
	OnStarted(cm *ConnectionManager)
	// OnFailure is called when the connection ends. The manager is in
	// standby by then.
	OnFailure(cm *ConnectionManager, failure ConnectionFailure)
}

// ConnectionManager asks the server to keep a connection to a device open
// for as long as the transaction is active.
type ConnectionManager struct {
	*devicebase.DeviceBase

	priority Priority

	state   State
	client  ConnectionManagerClient
	tran    uint32
	started bool
}

type connectionEvent struct {
	event.Base
	started bool
	failure ConnectionFailure
}

// NewConnectionManager creates a connection manager and registers it with
// the event validator.
func NewConnectionManager() *ConnectionManager {
	cm := &ConnectionManager{priority: PriorityNormal}
	cm.DeviceBase = devicebase.NewDeviceBase(cm)
	event.Register(cm)
	return cm
}

// State returns the component state.
func (cm *ConnectionManager) State() State { return cm.state }

// Priority returns the connection priority.
func (cm *ConnectionManager) Priority() Priority { return cm.priority }

// SetPriority sets the connection priority.
func (cm *ConnectionManager) SetPriority(p Priority) error {
	if err := cm.CheckStandby(); err != nil {
		return err
	}
	cm.priority = p
	return nil
}

// Start begins the transaction on a new session of r.
func (cm *ConnectionManager) Start(client ConnectionManagerClient, r router.Router) error {
	return cm.start(client, func() error { return cm.StartBase(client, r) })
}

// StartShared begins the transaction on the connection used by other.
func (cm *ConnectionManager) StartShared(client ConnectionManagerClient, other devicebase.Peer) error {
	return cm.start(client, func() error { return cm.StartBaseShared(client, other) })
}

func (cm *ConnectionManager) start(client ConnectionManagerClient, startBase func() error) error {
	if !event.IsValid(client) {
		return ErrInvalidClient
	}
	if err := startBase(); err != nil {
		return err
	}
	cm.client = client
	cm.state = StateDelegate
	cm.started = false
	return nil
}

// Finish stops the managed connection and returns to standby.
func (cm *ConnectionManager) Finish() {
	if cm.state == StateActive && cm.Session() != 0 {
		if err := cm.Send(messages.TypeConnectionManageStopCmd, messages.NewWriter().Uint32(cm.tran)); err != nil {
			cm.Logger().Debug("connection stop not sent", slog.Any("error", err))
		}
	}
	cm.state = StateStandby
	cm.client = nil
	cm.tran = 0
	cm.started = false
	cm.FinishBase()
}

// Close finishes the component and unregisters it.
func (cm *ConnectionManager) Close() {
	cm.Finish()
	event.Unregister(cm)
}

// OnBaseReady implements devicebase.Hooks.
func (cm *ConnectionManager) OnBaseReady() {
	cm.tran = cm.NewTranNo()
	cm.state = StateActive
	w := messages.NewWriter().Uint32(cm.tran).Uint32(uint32(cm.priority))
	if err := cm.Send(messages.TypeConnectionManageCmd, w); err != nil {
		cm.postFailure(ConnectionFailureSession)
	}
}

// OnBaseFailure implements devicebase.Hooks.
func (cm *ConnectionManager) OnBaseFailure(f devicebase.Failure) {
	cm.postFailure(connectionFailureFromBase(f))
}

// OnBaseSessionFailure implements devicebase.Hooks.
func (cm *ConnectionManager) OnBaseSessionFailure() {
	cm.postFailure(ConnectionFailureSession)
}

// OnNetMessage implements devicebase.Hooks.
func (cm *ConnectionManager) OnNetMessage(msg *messages.Message) {
	if cm.state != StateActive {
		cm.HandleNetMessage(msg)
		return
	}
	switch msg.Type {
	case messages.TypeConnectionManageAck, messages.TypeConnectionManageStatusNot:
		r, tran, code := ackHeader(msg)
		if r.Err() != nil || tran != cm.tran {
			return
		}
		failure, ok := decodeManageStatus(code)
		if !ok {
			cm.postFailure(failure)
			return
		}
		if code == manageConnected && !cm.started {
			cm.started = true
			cm.Post(&connectionEvent{Base: event.Base{Dest: cm, Client: cm.Client()}, started: true})
		}
	default:
		cm.HandleNetMessage(msg)
	}
}

func (cm *ConnectionManager) postFailure(f ConnectionFailure) {
	cm.Post(&connectionEvent{Base: event.Base{Dest: cm, Client: cm.Client()}, failure: f})
}

// Receive implements event.Receiver.
func (cm *ConnectionManager) Receive(ev event.Event) {
	e, ok := ev.(*connectionEvent)
	if !ok {
		return
	}
	current, callable := accept(cm.DeviceBase.ClientBase, e.Client)
	if !current {
		return
	}
	client := cm.client
	if e.started {
		if callable {
			client.OnStarted(cm)
		} else {
			cm.Finish()
		}
		return
	}
	cm.Logger().Debug("connection manager failed", slog.String("outcome", e.failure.String()))
	cm.Finish()
	if callable {
		client.OnFailure(cm, e.failure)
	}
}
