package loggernet

import (
	"io"
	"log/slog"
	"time"

	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router"
)

// ClockOutcome is the result of a clock check or set.
type ClockOutcome int

// Clock outcomes. Server codes without a mapping decode to ClockOutcomeUnknown.
const (
	ClockOutcomeUnknown ClockOutcome = iota
	ClockOutcomeSuccessClockChecked
	ClockOutcomeSuccessClockSet
	ClockOutcomeSessionFailed
	ClockOutcomeInvalidLogon
	ClockOutcomeServerSecurityBlocked
	ClockOutcomeCommunicationFailed
	ClockOutcomeCommunicationDisabled
	ClockOutcomeLoggerSecurityBlocked
	ClockOutcomeInvalidDeviceName
	ClockOutcomeUnsupported
	ClockOutcomeCancelled
	ClockOutcomeDeviceBusy
)

var clockOutcomeText = map[ClockOutcome]text{
	ClockOutcomeUnknown:               {"Unknown", "an unrecognised clock outcome"},
	ClockOutcomeSuccessClockChecked:   {"SuccessClockChecked", "the logger clock was checked"},
	ClockOutcomeSuccessClockSet:       {"SuccessClockSet", "the logger clock was set"},
	ClockOutcomeSessionFailed:         {"SessionFailed", "the session with the server failed"},
	ClockOutcomeInvalidLogon:          {"InvalidLogon", "invalid user name or password"},
	ClockOutcomeServerSecurityBlocked: {"ServerSecurityBlocked", "server security blocked the clock transaction"},
	ClockOutcomeCommunicationFailed:   {"CommunicationFailed", "communication with the logger failed"},
	ClockOutcomeCommunicationDisabled: {"CommunicationDisabled", "communication with the logger is disabled"},
	ClockOutcomeLoggerSecurityBlocked: {"LoggerSecurityBlocked", "the logger security code is wrong"},
	ClockOutcomeInvalidDeviceName:     {"InvalidDeviceName", "invalid device name"},
	ClockOutcomeUnsupported:           {"Unsupported", "the server or logger does not support clock checks"},
	ClockOutcomeCancelled:             {"Cancelled", "the clock transaction was cancelled"},
	ClockOutcomeDeviceBusy:            {"DeviceBusy", "the logger is busy with another transaction"},
}

// String returns the name of the outcome.
func (o ClockOutcome) String() string { return enumName(clockOutcomeText, o) }

// Describe writes a description of the outcome.
func (o ClockOutcome) Describe(w io.Writer) { enumDescribe(w, clockOutcomeText, o) }

func decodeClockOutcome(code uint32) ClockOutcome {
	switch code {
	case 1:
		return ClockOutcomeSuccessClockChecked
	case 2:
		return ClockOutcomeSuccessClockSet
	case 3:
		return ClockOutcomeCommunicationFailed
	case 4:
		return ClockOutcomeCommunicationDisabled
	case 5:
		return ClockOutcomeLoggerSecurityBlocked
	case 6:
		return ClockOutcomeCancelled
	case 7:
		return ClockOutcomeDeviceBusy
	case 8:
		return ClockOutcomeUnsupported
	default:
		return ClockOutcomeUnknown
	}
}

func clockOutcomeFromFailure(f devicebase.Failure) ClockOutcome {
	switch f {
	case devicebase.FailureSession:
		return ClockOutcomeSessionFailed
	case devicebase.FailureInvalidLogon:
		return ClockOutcomeInvalidLogon
	case devicebase.FailureSecurityBlocked:
		return ClockOutcomeServerSecurityBlocked
	case devicebase.FailureUnsupported:
		return ClockOutcomeUnsupported
	case devicebase.FailureInvalidDeviceName:
		return ClockOutcomeInvalidDeviceName
	default:
		return ClockOutcomeUnknown
	}
}

// ClockSetterClient receives the result of a ClockSetter.
type ClockSetterClient interface {
	OnComplete(cs *ClockSetter, outcome ClockOutcome, loggerTime time.Time, difference time.Duration)
}

// ClockSetter checks, and optionally sets, the clock of a datalogger.
type ClockSetter struct {
	*devicebase.DeviceBase

	shouldSet      bool
	sendServerTime bool
	serverTime     time.Time

	state     State
	client    ClockSetterClient
	tran      uint32
	cancelled bool
}

type clockEvent struct {
	event.Base
	outcome    ClockOutcome
	loggerTime time.Time
	difference time.Duration
}

// NewClockSetter creates a clock setter and registers it with the event
// validator. Close unregisters it.
func NewClockSetter() *ClockSetter {
	cs := &ClockSetter{}
	cs.DeviceBase = devicebase.NewDeviceBase(cs)
	event.Register(cs)
	return cs
}

// State returns the component state.
func (cs *ClockSetter) State() State { return cs.state }

// SetShouldSet chooses between checking and setting the clock.
func (cs *ClockSetter) SetShouldSet(v bool) error {
	if err := cs.CheckStandby(); err != nil {
		return err
	}
	cs.shouldSet = v
	return nil
}

// SetSendServerTime makes the server use the time given by SetServerTime
// instead of its own clock.
func (cs *ClockSetter) SetSendServerTime(v bool) error {
	if err := cs.CheckStandby(); err != nil {
		return err
	}
	cs.sendServerTime = v
	return nil
}

// SetServerTime sets the reference time used when SendServerTime is set.
func (cs *ClockSetter) SetServerTime(t time.Time) error {
	if err := cs.CheckStandby(); err != nil {
		return err
	}
	cs.serverTime = t
	return nil
}

// Start begins the transaction on a new session of r.
func (cs *ClockSetter) Start(client ClockSetterClient, r router.Router) error {
	return cs.start(client, func() error { return cs.StartBase(client, r) })
}

// StartShared begins the transaction on the connection used by other.
func (cs *ClockSetter) StartShared(client ClockSetterClient, other devicebase.Peer) error {
	return cs.start(client, func() error { return cs.StartBaseShared(client, other) })
}

func (cs *ClockSetter) start(client ClockSetterClient, startBase func() error) error {
	if !event.IsValid(client) {
		return ErrInvalidClient
	}
	if err := startBase(); err != nil {
		return err
	}
	cs.client = client
	cs.state = StateDelegate
	cs.cancelled = false
	return nil
}

// Cancel abandons the transaction. Before the command reaches the server the
// cancellation is reported locally; afterwards a stop command is sent.
func (cs *ClockSetter) Cancel() error {
	switch cs.state {
	case StateDelegate:
		cs.cancelled = true
		cs.post(ClockOutcomeCancelled, time.Time{}, 0)
		return nil
	case StateActive:
		if !cs.InterfaceVersion().AtLeast(cancelVersion) {
			return ErrUnsupported
		}
		if err := cs.Send(messages.TypeClockCheckStopCmd, messages.NewWriter().Uint32(cs.tran)); err != nil {
			cs.Logger().Debug("clock stop not sent", slog.Any("error", err))
		}
		cs.post(ClockOutcomeCancelled, time.Time{}, 0)
		return nil
	default:
		return ErrInvalidState
	}
}

// Finish returns the component to standby. It is safe to call at any time.
func (cs *ClockSetter) Finish() {
	cs.state = StateStandby
	cs.client = nil
	cs.tran = 0
	cs.FinishBase()
}

// Close finishes the component and unregisters it.
func (cs *ClockSetter) Close() {
	cs.Finish()
	event.Unregister(cs)
}

// OnBaseReady implements devicebase.Hooks.
func (cs *ClockSetter) OnBaseReady() {
	if cs.cancelled {
		return
	}
	cs.tran = cs.NewTranNo()
	w := messages.NewWriter().
		Uint32(cs.tran).
		Bool(cs.shouldSet).
		Bool(cs.sendServerTime).
		Time(cs.serverTime)
	cs.state = StateActive
	if err := cs.Send(messages.TypeClockCheckCmd, w); err != nil {
		cs.post(ClockOutcomeSessionFailed, time.Time{}, 0)
	}
}

// OnBaseFailure implements devicebase.Hooks.
func (cs *ClockSetter) OnBaseFailure(f devicebase.Failure) {
	cs.post(clockOutcomeFromFailure(f), time.Time{}, 0)
}

// OnBaseSessionFailure implements devicebase.Hooks.
func (cs *ClockSetter) OnBaseSessionFailure() {
	cs.post(ClockOutcomeSessionFailed, time.Time{}, 0)
}

// OnNetMessage implements devicebase.Hooks.
func (cs *ClockSetter) OnNetMessage(msg *messages.Message) {
	if cs.state != StateActive || msg.Type != messages.TypeClockCheckAck {
		cs.HandleNetMessage(msg)
		return
	}
	r, tran, code := ackHeader(msg)
	loggerTime := r.Time()
	diff := time.Duration(r.Int64())
	if r.Err() != nil || tran != cs.tran {
		return
	}
	cs.post(decodeClockOutcome(code), loggerTime, diff)
}

func (cs *ClockSetter) post(o ClockOutcome, loggerTime time.Time, diff time.Duration) {
	cs.Post(&clockEvent{
		Base:       event.Base{Dest: cs, Client: cs.Client()},
		outcome:    o,
		loggerTime: loggerTime,
		difference: diff,
	})
}

// Receive implements event.Receiver.
func (cs *ClockSetter) Receive(ev event.Event) {
	e, ok := ev.(*clockEvent)
	if !ok {
		return
	}
	current, callable := accept(cs.DeviceBase.ClientBase, e.Client)
	if !current {
		return
	}
	client := cs.client
	cs.Logger().Debug("clock transaction complete", slog.String("outcome", e.outcome.String()))
	cs.Finish()
	if callable {
		client.OnComplete(cs, e.outcome, e.loggerTime, e.difference)
	}
}
