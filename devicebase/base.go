// Package devicebase establishes the logged-on session that every LoggerNet
// transaction component runs over.
//
// A component embeds a ClientBase (server level transactions) or a
// DeviceBase (transactions against one device) and implements Hooks. The
// base owns the session: it opens it, logs on, optionally opens the device,
// and then tells the component it is ready through OnBaseReady. From that
// point every message on the session is passed to OnNetMessage.
//
// # State Machine
//
//	Standby ──StartBase──> Delegate ──logon ack──> Ready
//	   ^                     │   (device open ack)   │
//	   └──────FinishBase─────┴───────────────────────┘
//
// Failures while in Delegate or Ready are reported through OnBaseFailure or
// OnBaseSessionFailure; the base never calls FinishBase on its own, that is
// left to the component so it can map the failure first.
//
// # Clients
//
// The application client handed to StartBase must be registered with
// event.Register and remains referenced until FinishBase. Components check
// ClientValid before invoking it from a delivered event.
package devicebase

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router"
)

var (
	// ErrInvalidState is returned when a property is set or a start is
	// attempted while the component is not in standby.
	ErrInvalidState = errors.New("invalid component state")
	// ErrInvalidClient is returned when the client is nil or not registered.
	ErrInvalidClient = errors.New("invalid client")
	// ErrInvalidRouter is returned when no usable router or peer was supplied.
	ErrInvalidRouter = errors.New("invalid router")
)

// State is the state of the base.
type State int

const (
	// StateStandby is idle; properties may be set.
	StateStandby State = iota
	// StateDelegate is waiting for logon or device open.
	StateDelegate
	// StateReady has a logged-on session.
	StateReady
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStandby:
		return "Standby"
	case StateDelegate:
		return "Delegate"
	case StateReady:
		return "Ready"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Hooks is implemented by the component that embeds the base. All methods
// run on the dispatcher goroutine.
type Hooks interface {
	// OnBaseReady is called once the session is logged on (and the device
	// opened, for a DeviceBase).
	OnBaseReady()
	// OnBaseFailure is called when logon or device open fails.
	OnBaseFailure(f Failure)
	// OnBaseSessionFailure is called when the session is lost.
	OnBaseSessionFailure()
	// OnNetMessage receives every session message once ready.
	OnNetMessage(msg *messages.Message)
}

// Peer is anything embedding a ClientBase. It is used to share an
// established connection.
type Peer interface {
	clientBase() *ClientBase
}

// ClientBase manages a logged-on session with the server.
type ClientBase struct {
	hooks  Hooks
	id     uuid.UUID
	logger *slog.Logger

	appName       string
	logonName     string
	logonPassword string
	deviceName    string
	device        bool

	state     State
	client    any
	router    router.Router
	session   uint32
	version   messages.Version
	lastTran  uint32
	setupTran uint32
	epoch     uint64
}

// NewClientBase creates a base that reports to h.
func NewClientBase(h Hooks) *ClientBase {
	id := uuid.New()
	return &ClientBase{
		hooks:  h,
		id:     id,
		logger: discard.With(slog.String("id", id.String())),
	}
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func (b *ClientBase) clientBase() *ClientBase { return b }

// ID returns the instance id used in log records.
func (b *ClientBase) ID() uuid.UUID { return b.id }

// Logger returns the instance logger.
func (b *ClientBase) Logger() *slog.Logger { return b.logger }

// BaseState returns the state of the base.
func (b *ClientBase) BaseState() State { return b.state }

// IsStandby reports whether the base is idle.
func (b *ClientBase) IsStandby() bool { return b.state == StateStandby }

// Client returns the current client, or nil in standby.
func (b *ClientBase) Client() any { return b.client }

// Router returns the router in use, or nil in standby.
func (b *ClientBase) Router() router.Router { return b.router }

// Session returns the session number, or zero when there is none.
func (b *ClientBase) Session() uint32 { return b.session }

// InterfaceVersion returns the server interface version reported at logon.
func (b *ClientBase) InterfaceVersion() messages.Version { return b.version }

// CheckStandby returns ErrInvalidState unless the base is in standby.
func (b *ClientBase) CheckStandby() error {
	if b.state != StateStandby {
		return fmt.Errorf("%w: %s", ErrInvalidState, b.state)
	}
	return nil
}

// SetLogger sets the logger. A nil logger discards output.
func (b *ClientBase) SetLogger(logger *slog.Logger) error {
	if err := b.CheckStandby(); err != nil {
		return err
	}
	if logger == nil {
		logger = discard
	}
	b.logger = logger.With(slog.String("id", b.id.String()))
	return nil
}

// SetAppName sets the application name sent with the logon.
func (b *ClientBase) SetAppName(name string) error {
	if err := b.CheckStandby(); err != nil {
		return err
	}
	b.appName = name
	return nil
}

// SetLogonName sets the logon user name.
func (b *ClientBase) SetLogonName(name string) error {
	if err := b.CheckStandby(); err != nil {
		return err
	}
	b.logonName = name
	return nil
}

// SetLogonPassword sets the logon password.
func (b *ClientBase) SetLogonPassword(password string) error {
	if err := b.CheckStandby(); err != nil {
		return err
	}
	b.logonPassword = password
	return nil
}

// ClientValid reports whether client is still the current client and is
// still registered.
func (b *ClientBase) ClientValid(client any) bool {
	return event.IsValid(client) && client == b.client
}

// NewTranNo mints a transaction number for an outgoing command.
func (b *ClientBase) NewTranNo() uint32 {
	b.lastTran++
	if b.lastTran == 0 {
		b.lastTran++
	}
	return b.lastTran
}

// Send sends a message of type t with body w on the base session.
func (b *ClientBase) Send(t messages.Type, w *messages.Writer) error {
	if b.router == nil || b.session == 0 {
		return fmt.Errorf("send %s: %w", t, ErrInvalidState)
	}
	return b.router.SendMessage(messages.New(b.session, t, w))
}

// Post queues ev on the router's dispatcher.
func (b *ClientBase) Post(ev event.Event) {
	if b.router != nil {
		b.router.Dispatcher().Post(ev)
	}
}

// StartBase opens a new session on r and logs on.
func (b *ClientBase) StartBase(client any, r router.Router) error {
	if !event.IsValid(client) {
		return ErrInvalidClient
	}
	if err := b.CheckStandby(); err != nil {
		return err
	}
	if r == nil {
		return ErrInvalidRouter
	}
	if err := b.open(client, r); err != nil {
		return err
	}

	b.setupTran = b.NewTranNo()
	w := messages.NewWriter().
		Uint32(b.setupTran).
		String(b.appName).
		String(b.logonName).
		String(b.logonPassword)
	if err := b.Send(messages.TypeLogonCmd, w); err != nil {
		b.postSessionFailure(err)
	}
	return nil
}

// StartBaseShared opens a new session on the connection already used by
// other, which must be ready. The logon is not repeated.
func (b *ClientBase) StartBaseShared(client any, other Peer) error {
	if !event.IsValid(client) {
		return ErrInvalidClient
	}
	if err := b.CheckStandby(); err != nil {
		return err
	}
	if other == nil {
		return ErrInvalidRouter
	}
	peer := other.clientBase()
	if peer == nil || peer.state != StateReady || peer.router == nil {
		return fmt.Errorf("%w: peer has no ready connection", ErrInvalidRouter)
	}
	if err := b.open(client, peer.router); err != nil {
		return err
	}
	b.version = peer.version
	if b.device {
		b.openDevice()
		return nil
	}

	epoch := b.epoch
	b.Post(&event.Func{Fn: func() {
		if b.epoch == epoch && b.state == StateDelegate {
			b.ready()
		}
	}})
	return nil
}

func (b *ClientBase) open(client any, r router.Router) error {
	session, err := r.OpenSession(b)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRouter, err)
	}
	b.client = client
	b.router = r
	b.session = session
	b.state = StateDelegate
	b.logger.Debug("base starting", slog.Uint64("session", uint64(session)))
	return nil
}

// FinishBase closes the session and returns the base to standby. It may be
// called at any time, any number of times.
func (b *ClientBase) FinishBase() {
	if b.state == StateStandby {
		return
	}
	if b.router != nil && b.session != 0 {
		b.router.CloseSession(b.session)
	}
	b.logger.Debug("base finished", slog.String("state", b.state.String()))
	b.state = StateStandby
	b.client = nil
	b.router = nil
	b.session = 0
	b.setupTran = 0
	b.epoch++
}

// HandleNetMessage is the generic handler for messages a component does not
// recognise.
func (b *ClientBase) HandleNetMessage(msg *messages.Message) {
	switch msg.Type {
	case messages.TypeLogoffNot, messages.TypeSessionClosed:
		b.logger.Debug("session revoked by server", slog.String("type", msg.Type.String()))
		b.sessionFailed()
	default:
		b.logger.Debug("unexpected message", slog.String("type", msg.Type.String()), slog.String("state", b.state.String()))
	}
}

// OnMessage implements router.SessionHandler.
func (b *ClientBase) OnMessage(_ router.Router, msg *messages.Message) {
	if msg.Session != b.session || b.state == StateStandby {
		return
	}
	if b.state == StateReady {
		b.hooks.OnNetMessage(msg)
		return
	}

	switch msg.Type {
	case messages.TypeLogonAck:
		r := msg.Reader()
		tran, outcome, version := r.Uint32(), r.Uint32(), r.String()
		if r.Err() != nil || tran != b.setupTran {
			return
		}
		if outcome != ackSuccess {
			b.logger.Debug("logon rejected", slog.Uint64("outcome", uint64(outcome)))
			b.hooks.OnBaseFailure(logonFailure(outcome))
			return
		}
		v, err := messages.ParseVersion(version)
		if err != nil {
			b.logger.Warn("bad interface version", slog.String("version", version))
		}
		b.version = v
		if b.device {
			b.openDevice()
			return
		}
		b.ready()

	case messages.TypeDeviceOpenAck:
		r := msg.Reader()
		tran, outcome := r.Uint32(), r.Uint32()
		if r.Err() != nil || tran != b.setupTran {
			return
		}
		if outcome != ackSuccess {
			b.logger.Debug("device open rejected", slog.Uint64("outcome", uint64(outcome)))
			b.hooks.OnBaseFailure(deviceFailure(outcome))
			return
		}
		b.ready()

	default:
		b.HandleNetMessage(msg)
	}
}

// OnSessionClosed implements router.SessionHandler.
func (b *ClientBase) OnSessionClosed(_ router.Router, session uint32, reason router.CloseReason) {
	if session != b.session || b.state == StateStandby {
		return
	}
	b.logger.Debug("session closed", slog.String("reason", reason.String()))
	b.session = 0
	b.hooks.OnBaseSessionFailure()
}

func (b *ClientBase) openDevice() {
	b.setupTran = b.NewTranNo()
	w := messages.NewWriter().Uint32(b.setupTran).String(b.deviceName)
	if err := b.Send(messages.TypeDeviceOpenCmd, w); err != nil {
		b.postSessionFailure(err)
	}
}

func (b *ClientBase) ready() {
	b.state = StateReady
	b.logger.Debug("base ready", slog.String("version", b.version.String()))
	b.hooks.OnBaseReady()
}

func (b *ClientBase) sessionFailed() {
	if b.state == StateStandby {
		return
	}
	b.hooks.OnBaseSessionFailure()
}

// postSessionFailure defers a session failure so that it is never reported
// from inside StartBase.
func (b *ClientBase) postSessionFailure(err error) {
	b.logger.Debug("send failed", slog.Any("error", err))
	epoch := b.epoch
	b.Post(&event.Func{Fn: func() {
		if b.epoch == epoch {
			b.sessionFailed()
		}
	}})
}
