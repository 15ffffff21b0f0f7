package loggernet

import (
	"io"
	"log/slog"

	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router"
)

// FileSendOutcome is the result of a file send.
type FileSendOutcome int

// File send outcomes. Unmapped server codes decode to FileSendOutcomeUnknown.
const (
	FileSendOutcomeUnknown FileSendOutcome = iota
	FileSendOutcomeSuccess
	FileSendOutcomeSessionFailed
	FileSendOutcomeInvalidLogon
	FileSendOutcomeServerSecurityBlocked
	FileSendOutcomeCommunicationFailed
	FileSendOutcomeCommunicationDisabled
	FileSendOutcomeLoggerSecurityBlocked
	FileSendOutcomeInvalidDeviceName
	FileSendOutcomeUnsupported
	FileSendOutcomeInvalidFileName
	FileSendOutcomeLoggerResourceError
	FileSendOutcomeLoggerTimedOut
	FileSendOutcomeCancelled
	FileSendOutcomeSourceReadFailed
)

var fileSendOutcomeText = map[FileSendOutcome]text{
	FileSendOutcomeUnknown:               {"Unknown", "an unrecognised file send outcome"},
	FileSendOutcomeSuccess:               {"Success", "the file was sent"},
	FileSendOutcomeSessionFailed:         {"SessionFailed", "the session with the server failed"},
	FileSendOutcomeInvalidLogon:          {"InvalidLogon", "invalid user name or password"},
	FileSendOutcomeServerSecurityBlocked: {"ServerSecurityBlocked", "server security blocked the file send"},
	FileSendOutcomeCommunicationFailed:   {"CommunicationFailed", "communication with the logger failed"},
	FileSendOutcomeCommunicationDisabled: {"CommunicationDisabled", "communication with the logger is disabled"},
	FileSendOutcomeLoggerSecurityBlocked: {"LoggerSecurityBlocked", "the logger security code is wrong"},
	FileSendOutcomeInvalidDeviceName:     {"InvalidDeviceName", "invalid device name"},
	FileSendOutcomeUnsupported:           {"Unsupported", "the logger does not support file send"},
	FileSendOutcomeInvalidFileName:       {"InvalidFileName", "the logger rejected the file name"},
	FileSendOutcomeLoggerResourceError:   {"LoggerResourceError", "the logger has no room for the file"},
	FileSendOutcomeLoggerTimedOut:        {"LoggerTimedOut", "the logger did not respond"},
	FileSendOutcomeCancelled:             {"Cancelled", "the file send was cancelled"},
	FileSendOutcomeSourceReadFailed:      {"SourceReadFailed", "the file content could not be read"},
}

// String returns the name of the outcome.
func (o FileSendOutcome) String() string { return enumName(fileSendOutcomeText, o) }

// Describe writes a description of the outcome.
func (o FileSendOutcome) Describe(w io.Writer) { enumDescribe(w, fileSendOutcomeText, o) }

func decodeFileSendOutcome(code uint32) FileSendOutcome {
	switch code {
	case 1:
		return FileSendOutcomeSuccess
	case 2:
		return FileSendOutcomeCommunicationFailed
	case 3:
		return FileSendOutcomeCommunicationDisabled
	case 4:
		return FileSendOutcomeLoggerSecurityBlocked
	case 5:
		return FileSendOutcomeInvalidFileName
	case 6:
		return FileSendOutcomeLoggerResourceError
	case 7:
		return FileSendOutcomeLoggerTimedOut
	case 8:
		return FileSendOutcomeUnsupported
	case 9:
		return FileSendOutcomeCancelled
	default:
		return FileSendOutcomeUnknown
	}
}

func fileSendOutcomeFromFailure(f devicebase.Failure) FileSendOutcome {
	switch f {
	case devicebase.FailureSession:
		return FileSendOutcomeSessionFailed
	case devicebase.FailureInvalidLogon:
		return FileSendOutcomeInvalidLogon
	case devicebase.FailureSecurityBlocked:
		return FileSendOutcomeServerSecurityBlocked
	case devicebase.FailureUnsupported:
		return FileSendOutcomeUnsupported
	case devicebase.FailureInvalidDeviceName:
		return FileSendOutcomeInvalidDeviceName
	default:
		return FileSendOutcomeUnknown
	}
}

// FileSenderClient receives notifications from a FileSender.
type FileSenderClient interface {
	// OnProgress is called after each acknowledged fragment except the last.
	OnProgress(fs *FileSender, sent, total int64)
	// OnComplete reports the final outcome.
	OnComplete(fs *FileSender, outcome FileSendOutcome)
}

// FileSender sends a file to a datalogger one fragment at a time, waiting
// for each fragment to be acknowledged.
type FileSender struct {
	*devicebase.DeviceBase

	loggerFileName string
	source         fragmentSource

	state     State
	client    FileSenderClient
	tran      uint32
	lastSent  bool
	cancelled bool
}

type fileSendEvent struct {
	event.Base
	progress bool
	sent     int64
	total    int64
	outcome  FileSendOutcome
}

// NewFileSender creates a file sender and registers it with the event
// validator.
func NewFileSender() *FileSender {
	fs := &FileSender{}
	fs.DeviceBase = devicebase.NewDeviceBase(fs)
	event.Register(fs)
	return fs
}

// State returns the component state.
func (fs *FileSender) State() State { return fs.state }

// SetContent sets the bytes to send.
func (fs *FileSender) SetContent(data []byte) error {
	if err := fs.CheckStandby(); err != nil {
		return err
	}
	fs.source.setBytes(data)
	return nil
}

// SetContentReader sets a reader supplying size bytes to send. The reader
// is consumed by one transaction.
func (fs *FileSender) SetContentReader(r io.Reader, size int64) error {
	if err := fs.CheckStandby(); err != nil {
		return err
	}
	fs.source.setReader(r, size)
	return nil
}

// SetLoggerFileName sets the name the file is stored under on the logger,
// including the device prefix such as "CPU:".
func (fs *FileSender) SetLoggerFileName(name string) error {
	if err := fs.CheckStandby(); err != nil {
		return err
	}
	fs.loggerFileName = name
	return nil
}

// SetFragmentSize sets the number of content bytes per fragment.
func (fs *FileSender) SetFragmentSize(n int) error {
	if err := fs.CheckStandby(); err != nil {
		return err
	}
	fs.source.size = n
	return nil
}

// Start begins the transaction on a new session of r.
func (fs *FileSender) Start(client FileSenderClient, r router.Router) error {
	return fs.start(client, func() error { return fs.StartBase(client, r) })
}

// StartShared begins the transaction on the connection used by other.
func (fs *FileSender) StartShared(client FileSenderClient, other devicebase.Peer) error {
	return fs.start(client, func() error { return fs.StartBaseShared(client, other) })
}

func (fs *FileSender) start(client FileSenderClient, startBase func() error) error {
	if !event.IsValid(client) {
		return ErrInvalidClient
	}
	if err := startBase(); err != nil {
		return err
	}
	fs.client = client
	fs.state = StateDelegate
	fs.cancelled = false
	fs.lastSent = false
	fs.source.rewind()
	return nil
}

// Cancel abandons the send. Acks that arrive afterwards are ignored.
func (fs *FileSender) Cancel() error {
	switch fs.state {
	case StateDelegate:
		if fs.cancelled {
			return nil
		}
		fs.cancelled = true
	case StateActive:
		if fs.cancelled {
			return nil
		}
		if !fs.InterfaceVersion().AtLeast(cancelVersion) {
			return ErrUnsupported
		}
		if err := fs.Send(messages.TypeFileSendStopCmd, messages.NewWriter().Uint32(fs.tran)); err != nil {
			fs.Logger().Debug("file send stop not sent", slog.Any("error", err))
		}
		fs.cancelled = true
	default:
		return ErrInvalidState
	}
	fs.complete(FileSendOutcomeCancelled)
	return nil
}

// Finish returns the component to standby.
func (fs *FileSender) Finish() {
	fs.state = StateStandby
	fs.client = nil
	fs.tran = 0
	fs.FinishBase()
}

// Close finishes the component and unregisters it.
func (fs *FileSender) Close() {
	fs.Finish()
	event.Unregister(fs)
}

// OnBaseReady implements devicebase.Hooks.
func (fs *FileSender) OnBaseReady() {
	if fs.cancelled {
		return
	}
	fs.tran = fs.NewTranNo()
	fs.state = StateActive
	fs.sendNext()
}

func (fs *FileSender) sendNext() {
	frag, offset, last, err := fs.source.next()
	if err != nil {
		fs.Logger().Debug("file content read failed", slog.Any("error", err))
		fs.complete(FileSendOutcomeSourceReadFailed)
		return
	}
	w := messages.NewWriter().
		Uint32(fs.tran).
		String(fs.loggerFileName).
		Int64(offset).
		Bool(last).
		Blob(frag)
	fs.lastSent = last
	if err := fs.Send(messages.TypeFileSendCmd, w); err != nil {
		fs.complete(FileSendOutcomeSessionFailed)
	}
}

// OnBaseFailure implements devicebase.Hooks.
func (fs *FileSender) OnBaseFailure(f devicebase.Failure) {
	fs.complete(fileSendOutcomeFromFailure(f))
}

// OnBaseSessionFailure implements devicebase.Hooks.
func (fs *FileSender) OnBaseSessionFailure() {
	fs.complete(FileSendOutcomeSessionFailed)
}

// OnNetMessage implements devicebase.Hooks.
func (fs *FileSender) OnNetMessage(msg *messages.Message) {
	if fs.state != StateActive || msg.Type != messages.TypeFileSendAck {
		fs.HandleNetMessage(msg)
		return
	}
	if fs.cancelled {
		return
	}
	r, tran, code := ackHeader(msg)
	if r.Err() != nil || tran != fs.tran {
		return
	}
	outcome := decodeFileSendOutcome(code)
	if outcome != FileSendOutcomeSuccess {
		fs.complete(outcome)
		return
	}
	if fs.lastSent {
		fs.complete(FileSendOutcomeSuccess)
		return
	}
	fs.Post(&fileSendEvent{
		Base:     event.Base{Dest: fs, Client: fs.Client()},
		progress: true,
		sent:     fs.source.sent,
		total:    fs.source.total,
	})
	fs.sendNext()
}

func (fs *FileSender) complete(o FileSendOutcome) {
	fs.Post(&fileSendEvent{Base: event.Base{Dest: fs, Client: fs.Client()}, outcome: o})
}

// Receive implements event.Receiver.
func (fs *FileSender) Receive(ev event.Event) {
	e, ok := ev.(*fileSendEvent)
	if !ok {
		return
	}
	current, callable := accept(fs.DeviceBase.ClientBase, e.Client)
	if !current {
		return
	}
	client := fs.client
	if e.progress {
		if callable {
			client.OnProgress(fs, e.sent, e.total)
		} else {
			fs.Finish()
		}
		return
	}
	fs.Logger().Debug("file send complete", slog.String("outcome", e.outcome.String()))
	fs.Finish()
	if callable {
		client.OnComplete(fs, e.outcome)
	}
}
