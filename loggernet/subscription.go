package loggernet

import (
	"io"
	"log/slog"

	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
)

// EnumFailure says why an enumeration ended.
type EnumFailure int

// Enumeration failures. Unmapped server codes decode to EnumFailureUnknown.
const (
	EnumFailureUnknown EnumFailure = iota
	EnumFailureSession
	EnumFailureInvalidLogon
	EnumFailureSecurityBlocked
	EnumFailureUnsupported
	EnumFailureInvalidDeviceName
)

var enumFailureText = map[EnumFailure]text{
	EnumFailureUnknown:           {"Unknown", "an unrecognised enumeration failure"},
	EnumFailureSession:           {"SessionFailed", "the session with the server failed"},
	EnumFailureInvalidLogon:      {"InvalidLogon", "invalid user name or password"},
	EnumFailureSecurityBlocked:   {"SecurityBlocked", "server security blocked the enumeration"},
	EnumFailureUnsupported:       {"Unsupported", "the server does not support the enumeration"},
	EnumFailureInvalidDeviceName: {"InvalidDeviceName", "invalid device name"},
}

// String returns the name of the failure.
func (f EnumFailure) String() string { return enumName(enumFailureText, f) }

// Describe writes a description of the failure.
func (f EnumFailure) Describe(w io.Writer) { enumDescribe(w, enumFailureText, f) }

func decodeEnumFailure(code uint32) EnumFailure {
	switch code {
	case 2:
		return EnumFailureUnsupported
	case 3:
		return EnumFailureSecurityBlocked
	case 4:
		return EnumFailureInvalidDeviceName
	default:
		return EnumFailureUnknown
	}
}

func enumFailureFromBase(f devicebase.Failure) EnumFailure {
	switch f {
	case devicebase.FailureSession:
		return EnumFailureSession
	case devicebase.FailureInvalidLogon:
		return EnumFailureInvalidLogon
	case devicebase.FailureSecurityBlocked:
		return EnumFailureSecurityBlocked
	case devicebase.FailureUnsupported:
		return EnumFailureUnsupported
	case devicebase.FailureInvalidDeviceName:
		return EnumFailureInvalidDeviceName
	default:
		return EnumFailureUnknown
	}
}

// subscription runs the exchange shared by the enumerators: a start command,
// an ack carrying an outcome, notifications until finish, and a stop command.
// It implements devicebase.Hooks for the enumerator that owns it.
type subscription struct {
	base  *devicebase.ClientBase
	owner event.Receiver

	cmd     messages.Type
	ack     messages.Type
	stop    messages.Type
	notices []messages.Type

	// params appends start parameters after the transaction number.
	params func(w *messages.Writer)
	// notice decodes one of notices into a client call. It returns nil when
	// the body is malformed or the notification produces no callback.
	notice func(t messages.Type, r *messages.Reader) func()
	// started and failed build the client calls for the ack and for failure.
	started func() func()
	failed  func(f EnumFailure) func()
	// reset clears the owner's reference to its client.
	reset func()

	state State
	tran  uint32
	acked bool
}

type subscriptionEvent struct {
	event.Base
	terminal bool
	call     func()
}

func (s *subscription) begin() {
	s.state = StateDelegate
	s.acked = false
}

func (s *subscription) finish() {
	if s.state == StateActive && s.base.Session() != 0 {
		if err := s.base.Send(s.stop, messages.NewWriter().Uint32(s.tran)); err != nil {
			s.base.Logger().Debug("stop not sent", slog.String("type", s.stop.String()), slog.Any("error", err))
		}
	}
	s.state = StateStandby
	s.tran = 0
	s.acked = false
	s.reset()
	s.base.FinishBase()
}

func (s *subscription) post(terminal bool, call func()) {
	s.base.Post(&subscriptionEvent{
		Base:     event.Base{Dest: s.owner, Client: s.base.Client()},
		terminal: terminal,
		call:     call,
	})
}

func (s *subscription) fail(f EnumFailure) {
	s.post(true, s.failed(f))
}

// OnBaseReady implements devicebase.Hooks.
func (s *subscription) OnBaseReady() {
	s.tran = s.base.NewTranNo()
	s.state = StateActive
	w := messages.NewWriter().Uint32(s.tran)
	if s.params != nil {
		s.params(w)
	}
	if err := s.base.Send(s.cmd, w); err != nil {
		s.fail(EnumFailureSession)
	}
}

// OnBaseFailure implements devicebase.Hooks.
func (s *subscription) OnBaseFailure(f devicebase.Failure) {
	s.fail(enumFailureFromBase(f))
}

// OnBaseSessionFailure implements devicebase.Hooks.
func (s *subscription) OnBaseSessionFailure() {
	s.fail(EnumFailureSession)
}

// OnNetMessage implements devicebase.Hooks.
func (s *subscription) OnNetMessage(msg *messages.Message) {
	if s.state != StateActive {
		s.base.HandleNetMessage(msg)
		return
	}
	r := msg.Reader()
	tran := r.Uint32()
	if r.Err() != nil {
		s.base.HandleNetMessage(msg)
		return
	}

	if msg.Type == s.ack {
		code := r.Uint32()
		if r.Err() != nil || tran != s.tran {
			return
		}
		if code != 1 {
			s.fail(decodeEnumFailure(code))
			return
		}
		s.acked = true
		s.post(false, s.started())
		return
	}

	if !s.isNotice(msg.Type) {
		s.base.HandleNetMessage(msg)
		return
	}
	if tran != s.tran {
		return
	}
	if call := s.notice(msg.Type, r); call != nil {
		s.post(false, call)
	}
}

func (s *subscription) isNotice(t messages.Type) bool {
	for _, n := range s.notices {
		if n == t {
			return true
		}
	}
	return false
}

// receive delivers a subscription event posted by s.
func (s *subscription) receive(ev event.Event) {
	e, ok := ev.(*subscriptionEvent)
	if !ok {
		return
	}
	current, callable := accept(s.base, e.Client)
	if !current {
		return
	}
	if e.terminal || !callable {
		s.finish()
	}
	if callable {
		e.call()
	}
}
