package loggernet

import (
	"io"
	"log/slog"

	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router"
)

// ProgramSendOutcome is the result of sending and compiling a program.
type ProgramSendOutcome int

// Program send outcomes. Unmapped server codes decode to ProgramSendOutcomeUnknown.
const (
	ProgramSendOutcomeUnknown ProgramSendOutcome = iota
	ProgramSendOutcomeSuccess
	ProgramSendOutcomeSessionFailed
	ProgramSendOutcomeInvalidLogon
	ProgramSendOutcomeServerSecurityBlocked
	ProgramSendOutcomeCommunicationFailed
	ProgramSendOutcomeCommunicationDisabled
	ProgramSendOutcomeLoggerSecurityBlocked
	ProgramSendOutcomeInvalidDeviceName
	ProgramSendOutcomeUnsupported
	ProgramSendOutcomeInvalidFileName
	ProgramSendOutcomeResourceExhausted
	ProgramSendOutcomeLoggerTimedOut
	ProgramSendOutcomeCancelled
	ProgramSendOutcomeCompileFailed
	ProgramSendOutcomeIncompatibleLogger
	ProgramSendOutcomeSourceReadFailed
)

var programSendOutcomeText = map[ProgramSendOutcome]text{
	ProgramSendOutcomeUnknown:               {"Unknown", "an unrecognised program send outcome"},
	ProgramSendOutcomeSuccess:               {"Success", "the program was sent and compiled"},
	ProgramSendOutcomeSessionFailed:         {"SessionFailed", "the session with the server failed"},
	ProgramSendOutcomeInvalidLogon:          {"InvalidLogon", "invalid user name or password"},
	ProgramSendOutcomeServerSecurityBlocked: {"ServerSecurityBlocked", "server security blocked the program send"},
	ProgramSendOutcomeCommunicationFailed:   {"CommunicationFailed", "communication with the logger failed"},
	ProgramSendOutcomeCommunicationDisabled: {"CommunicationDisabled", "communication with the logger is disabled"},
	ProgramSendOutcomeLoggerSecurityBlocked: {"LoggerSecurityBlocked", "the logger security code is wrong"},
	ProgramSendOutcomeInvalidDeviceName:     {"InvalidDeviceName", "invalid device name"},
	ProgramSendOutcomeUnsupported:           {"Unsupported", "the logger does not support program send"},
	ProgramSendOutcomeInvalidFileName:       {"InvalidFileName", "the logger rejected the program file name"},
	ProgramSendOutcomeResourceExhausted:     {"ResourceExhausted", "the logger ran out of memory for the program"},
	ProgramSendOutcomeLoggerTimedOut:        {"LoggerTimedOut", "the logger did not respond"},
	ProgramSendOutcomeCancelled:             {"Cancelled", "the program send was cancelled"},
	ProgramSendOutcomeCompileFailed:         {"CompileFailed", "the logger could not compile the program"},
	ProgramSendOutcomeIncompatibleLogger:    {"IncompatibleLogger", "the program was written for another logger type"},
	ProgramSendOutcomeSourceReadFailed:      {"SourceReadFailed", "the program content could not be read"},
}

// String returns the name of the outcome.
func (o ProgramSendOutcome) String() string { return enumName(programSendOutcomeText, o) }

// Describe writes a description of the outcome.
func (o ProgramSendOutcome) Describe(w io.Writer) { enumDescribe(w, programSendOutcomeText, o) }

func decodeProgramSendOutcome(code uint32) ProgramSendOutcome {
	switch code {
	case 1:
		return ProgramSendOutcomeSuccess
	case 2:
		return ProgramSendOutcomeCommunicationFailed
	case 3:
		return ProgramSendOutcomeCommunicationDisabled
	case 4:
		return ProgramSendOutcomeLoggerSecurityBlocked
	case 5:
		return ProgramSendOutcomeInvalidFileName
	case 6:
		return ProgramSendOutcomeResourceExhausted
	case 7:
		return ProgramSendOutcomeLoggerTimedOut
	case 8:
		return ProgramSendOutcomeUnsupported
	case 9:
		return ProgramSendOutcomeCancelled
	case 10:
		return ProgramSendOutcomeCompileFailed
	case 11:
		return ProgramSendOutcomeIncompatibleLogger
	default:
		return ProgramSendOutcomeUnknown
	}
}

func programSendOutcomeFromFailure(f devicebase.Failure) ProgramSendOutcome {
	switch f {
	case devicebase.FailureSession:
		return ProgramSendOutcomeSessionFailed
	case devicebase.FailureInvalidLogon:
		return ProgramSendOutcomeInvalidLogon
	case devicebase.FailureSecurityBlocked:
		return ProgramSendOutcomeServerSecurityBlocked
	case devicebase.FailureUnsupported:
		return ProgramSendOutcomeUnsupported
	case devicebase.FailureInvalidDeviceName:
		return ProgramSendOutcomeInvalidDeviceName
	default:
		return ProgramSendOutcomeUnknown
	}
}

// ProgramFileSenderClient receives notifications from a ProgramFileSender.
type ProgramFileSenderClient interface {
	// OnProgress is called after each acknowledged fragment except the last.
	OnProgress(ps *ProgramFileSender, sent, total int64)
	// OnComplete reports the final outcome and the compile results text
	// returned by the logger, if any.
	OnComplete(ps *ProgramFileSender, outcome ProgramSendOutcome, compileResults string)
}

// ProgramFileSender sends a program file to a datalogger and waits for the
// logger to compile it.
type ProgramFileSender struct {
	*devicebase.DeviceBase

	programName string
	source      fragmentSource

	state     State
	client    ProgramFileSenderClient
	tran      uint32
	lastSent  bool
	compiling bool
	cancelled bool
}

type programSendEvent struct {
	event.Base
	progress       bool
	sent           int64
	total          int64
	outcome        ProgramSendOutcome
	compileResults string
}

// NewProgramFileSender creates a program sender and registers it with the
// event validator.
func NewProgramFileSender() *ProgramFileSender {
	ps := &ProgramFileSender{}
	ps.DeviceBase = devicebase.NewDeviceBase(ps)
	event.Register(ps)
	return ps
}

// State returns the component state.
func (ps *ProgramFileSender) State() State { return ps.state }

// Compiling reports whether every fragment has been accepted and the
// component is waiting for compile results.
func (ps *ProgramFileSender) Compiling() bool { return ps.compiling }

// SetContent sets the program text.
func (ps *ProgramFileSender) SetContent(data []byte) error {
	if err := ps.CheckStandby(); err != nil {
		return err
	}
	ps.source.setBytes(data)
	return nil
}

// SetContentReader sets a reader supplying size bytes of program text.
func (ps *ProgramFileSender) SetContentReader(r io.Reader, size int64) error {
	if err := ps.CheckStandby(); err != nil {
		return err
	}
	ps.source.setReader(r, size)
	return nil
}

// SetProgramName sets the name the program is stored under on the logger.
func (ps *ProgramFileSender) SetProgramName(name string) error {
	if err := ps.CheckStandby(); err != nil {
		return err
	}
	ps.programName = name
	return nil
}

// SetFragmentSize sets the number of content bytes per fragment.
func (ps *ProgramFileSender) SetFragmentSize(n int) error {
	if err := ps.CheckStandby(); err != nil {
		return err
	}
	ps.source.size = n
	return nil
}

// Start begins the transaction on a new session of r.
func (ps *ProgramFileSender) Start(client ProgramFileSenderClient, r router.Router) error {
	return ps.start(client, func() error { return ps.StartBase(client, r) })
}

// StartShared begins the transaction on the connection used by other.
func (ps *ProgramFileSender) StartShared(client ProgramFileSenderClient, other devicebase.Peer) error {
	return ps.start(client, func() error { return ps.StartBaseShared(client, other) })
}

func (ps *ProgramFileSender) start(client ProgramFileSenderClient, startBase func() error) error {
	if !event.IsValid(client) {
		return ErrInvalidClient
	}
	if err := startBase(); err != nil {
		return err
	}
	ps.client = client
	ps.state = StateDelegate
	ps.lastSent = false
	ps.compiling = false
	ps.cancelled = false
	ps.source.rewind()
	return nil
}

// Cancel abandons the send. Once the logger is compiling the program the
// stop command only stops the wait for results.
func (ps *ProgramFileSender) Cancel() error {
	switch ps.state {
	case StateDelegate:
		if ps.cancelled {
			return nil
		}
		ps.cancelled = true
	case StateActive:
		if ps.cancelled {
			return nil
		}
		if !ps.InterfaceVersion().AtLeast(cancelVersion) {
			return ErrUnsupported
		}
		if err := ps.Send(messages.TypeProgramSendStopCmd, messages.NewWriter().Uint32(ps.tran)); err != nil {
			ps.Logger().Debug("program stop not sent", slog.Any("error", err))
		}
		ps.cancelled = true
	default:
		return ErrInvalidState
	}
	ps.complete(ProgramSendOutcomeCancelled, "")
	return nil
}

// Finish returns the component to standby.
func (ps *ProgramFileSender) Finish() {
	ps.state = StateStandby
	ps.client = nil
	ps.tran = 0
	ps.compiling = false
	ps.FinishBase()
}

// Close finishes the component and unregisters it.
func (ps *ProgramFileSender) Close() {
	ps.Finish()
	event.Unregister(ps)
}

// OnBaseReady implements devicebase.Hooks.
func (ps *ProgramFileSender) OnBaseReady() {
	if ps.cancelled {
		return
	}
	ps.tran = ps.NewTranNo()
	ps.state = StateActive
	ps.sendNext()
}

func (ps *ProgramFileSender) sendNext() {
	frag, offset, last, err := ps.source.next()
	if err != nil {
		ps.Logger().Debug("program content read failed", slog.Any("error", err))
		ps.complete(ProgramSendOutcomeSourceReadFailed, "")
		return
	}
	w := messages.NewWriter().
		Uint32(ps.tran).
		String(ps.programName).
		Int64(offset).
		Bool(last).
		Blob(frag)
	ps.lastSent = last
	if err := ps.Send(messages.TypeProgramSendCmd, w); err != nil {
		ps.complete(ProgramSendOutcomeSessionFailed, "")
	}
}

// OnBaseFailure implements devicebase.Hooks.
func (ps *ProgramFileSender) OnBaseFailure(f devicebase.Failure) {
	ps.complete(programSendOutcomeFromFailure(f), "")
}

// OnBaseSessionFailure implements devicebase.Hooks.
func (ps *ProgramFileSender) OnBaseSessionFailure() {
	ps.complete(ProgramSendOutcomeSessionFailed, "")
}

// OnNetMessage implements devicebase.Hooks.
func (ps *ProgramFileSender) OnNetMessage(msg *messages.Message) {
	if ps.state != StateActive {
		ps.HandleNetMessage(msg)
		return
	}
	switch {
	case ps.cancelled && (msg.Type == messages.TypeProgramSendAck || msg.Type == messages.TypeProgramSendStatusNot):
		return

	case msg.Type == messages.TypeProgramSendAck && !ps.compiling:
		r, tran, code := ackHeader(msg)
		if r.Err() != nil || tran != ps.tran {
			return
		}
		outcome := decodeProgramSendOutcome(code)
		if outcome != ProgramSendOutcomeSuccess {
			ps.complete(outcome, "")
			return
		}
		if ps.lastSent {
			ps.compiling = true
			ps.Logger().Debug("program sent, waiting for compile results")
			return
		}
		ps.Post(&programSendEvent{
			Base:     event.Base{Dest: ps, Client: ps.Client()},
			progress: true,
			sent:     ps.source.sent,
			total:    ps.source.total,
		})
		ps.sendNext()

	case msg.Type == messages.TypeProgramSendStatusNot:
		r, tran, code := ackHeader(msg)
		results := r.String()
		if r.Err() != nil || tran != ps.tran {
			return
		}
		ps.complete(decodeProgramSendOutcome(code), results)

	default:
		ps.HandleNetMessage(msg)
	}
}

func (ps *ProgramFileSender) complete(o ProgramSendOutcome, results string) {
	ps.Post(&programSendEvent{
		Base:           event.Base{Dest: ps, Client: ps.Client()},
		outcome:        o,
		compileResults: results,
	})
}

// Receive implements event.Receiver.
func (ps *ProgramFileSender) Receive(ev event.Event) {
	e, ok := ev.(*programSendEvent)
	if !ok {
		return
	}
	current, callable := accept(ps.DeviceBase.ClientBase, e.Client)
	if !current {
		return
	}
	client := ps.client
	if e.progress {
		if callable {
			client.OnProgress(ps, e.sent, e.total)
		} else {
			ps.Finish()
		}
		return
	}
	ps.Logger().Debug("program send complete", slog.String("outcome", e.outcome.String()))
	ps.Finish()
	if callable {
		client.OnComplete(ps, e.outcome, e.compileResults)
	}
}
