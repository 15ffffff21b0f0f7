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

// FileAction is a file control command code understood by the logger.
type FileAction uint32

// Common file control actions. Other codes are passed through unchanged.
const (
	FileActionCompileAndRun      FileAction = 1
	FileActionSetRunOnPowerUp    FileAction = 2
	FileActionHide               FileAction = 3
	FileActionDelete             FileAction = 4
	FileActionFormat             FileAction = 5
	FileActionCompileRunKeepData FileAction = 6
	FileActionStopProgram        FileAction = 7
	FileActionStopAndDelete      FileAction = 8
	FileActionMakeOS             FileAction = 9
	FileActionPauseProgram       FileAction = 10
	FileActionResumeProgram      FileAction = 11
	FileActionRename             FileAction = 12
)

// FileControlOutcome is the result of a file control transaction.
type FileControlOutcome int

// File control outcomes. Unmapped server codes decode to FileControlOutcomeUnknown.
const (
	FileControlOutcomeUnknown FileControlOutcome = iota
	FileControlOutcomeSuccess
	FileControlOutcomeSessionFailed
	FileControlOutcomeInvalidLogon
	FileControlOutcomeServerSecurityBlocked
	FileControlOutcomeCommunicationFailed
	FileControlOutcomeCommunicationDisabled
	FileControlOutcomeLoggerSecurityBlocked
	FileControlOutcomeInvalidDeviceName
	FileControlOutcomeUnsupported
	FileControlOutcomeInvalidFileName
	FileControlOutcomeFileSystemBusy
	FileControlOutcomeInsufficientResources
	FileControlOutcomeLoggerTimedOut
)

var fileControlOutcomeText = map[FileControlOutcome]text{
	FileControlOutcomeUnknown:               {"Unknown", "an unrecognised file control outcome"},
	FileControlOutcomeSuccess:               {"Success", "the file control command succeeded"},
	FileControlOutcomeSessionFailed:         {"SessionFailed", "the session with the server failed"},
	FileControlOutcomeInvalidLogon:          {"InvalidLogon", "invalid user name or password"},
	FileControlOutcomeServerSecurityBlocked: {"ServerSecurityBlocked", "server security blocked the file control command"},
	FileControlOutcomeCommunicationFailed:   {"CommunicationFailed", "communication with the logger failed"},
	FileControlOutcomeCommunicationDisabled: {"CommunicationDisabled", "communication with the logger is disabled"},
	FileControlOutcomeLoggerSecurityBlocked: {"LoggerSecurityBlocked", "the logger security code is wrong"},
	FileControlOutcomeInvalidDeviceName:     {"InvalidDeviceName", "invalid device name"},
	FileControlOutcomeUnsupported:           {"Unsupported", "the logger does not support file control"},
	FileControlOutcomeInvalidFileName:       {"InvalidFileName", "the file name is invalid or the file does not exist"},
	FileControlOutcomeFileSystemBusy:        {"FileSystemBusy", "the logger file system is busy"},
	FileControlOutcomeInsufficientResources: {"InsufficientResources", "the logger has insufficient resources"},
	FileControlOutcomeLoggerTimedOut:        {"LoggerTimedOut", "the logger did not respond"},
}

// String returns the name of the outcome.
func (o FileControlOutcome) String() string { return enumName(fileControlOutcomeText, o) }

// Describe writes a description of the outcome.
func (o FileControlOutcome) Describe(w io.Writer) { enumDescribe(w, fileControlOutcomeText, o) }

func decodeFileControlOutcome(code uint32) FileControlOutcome {
	switch code {
	case 1:
		return FileControlOutcomeSuccess
	case 2:
		return FileControlOutcomeCommunicationFailed
	case 3:
		return FileControlOutcomeCommunicationDisabled
	case 4:
		return FileControlOutcomeLoggerSecurityBlocked
	case 5:
		return FileControlOutcomeInvalidFileName
	case 6:
		return FileControlOutcomeFileSystemBusy
	case 7:
		return FileControlOutcomeInsufficientResources
	case 8:
		return FileControlOutcomeUnsupported
	case 9:
		return FileControlOutcomeLoggerTimedOut
	default:
		return FileControlOutcomeUnknown
	}
}

func fileControlOutcomeFromFailure(f devicebase.Failure) FileControlOutcome {
	switch f {
	case devicebase.FailureSession:
		return FileControlOutcomeSessionFailed
	case devicebase.FailureInvalidLogon:
		return FileControlOutcomeInvalidLogon
	case devicebase.FailureSecurityBlocked:
		return FileControlOutcomeServerSecurityBlocked
	case devicebase.FailureUnsupported:
		return FileControlOutcomeUnsupported
	case devicebase.FailureInvalidDeviceName:
		return FileControlOutcomeInvalidDeviceName
	default:
		return FileControlOutcomeUnknown
	}
}

// FileControllerClient receives the result of a FileController.
type FileControllerClient interface {
	// OnComplete reports the outcome. holdOff is how long the logger asks
	// the caller to wait before contacting it again.
	OnComplete(fc *FileController, outcome FileControlOutcome, holdOff time.Duration)
}

// FileController runs a file control command (run, delete, format ...) on a
// datalogger.
type FileController struct {
	*devicebase.DeviceBase

	fileName string
	action   FileAction
	param    string

	state  State
	client FileControllerClient
	tran   uint32
}

type fileControlEvent struct {
	event.Base
	outcome FileControlOutcome
	holdOff time.Duration
}

// NewFileController creates a file controller and registers it with the
// event validator.
func NewFileController() *FileController {
	fc := &FileController{}
	fc.DeviceBase = devicebase.NewDeviceBase(fc)
	event.Register(fc)
	return fc
}

// State returns the component state.
func (fc *FileController) State() State { return fc.state }

// SetFileName sets the logger file the action applies to.
func (fc *FileController) SetFileName(name string) error {
	if err := fc.CheckStandby(); err != nil {
		return err
	}
	fc.fileName = name
	return nil
}

// SetAction sets the file control command.
func (fc *FileController) SetAction(a FileAction) error {
	if err := fc.CheckStandby(); err != nil {
		return err
	}
	fc.action = a
	return nil
}

// SetParam sets the second argument of actions that need one, such as the
// new name for FileActionRename.
func (fc *FileController) SetParam(p string) error {
	if err := fc.CheckStandby(); err != nil {
		return err
	}
	fc.param = p
	return nil
}

// Start begins the transaction on a new session of r.
func (fc *FileController) Start(client FileControllerClient, r router.Router) error {
	return fc.start(client, func() error { return fc.StartBase(client, r) })
}

// StartShared begins the transaction on the connection used by other.
func (fc *FileController) StartShared(client FileControllerClient, other devicebase.Peer) error {
	return fc.start(client, func() error { return fc.StartBaseShared(client, other) })
}

func (fc *FileController) start(client FileControllerClient, startBase func() error) error {
	if !event.IsValid(client) {
		return ErrInvalidClient
	}
	if err := startBase(); err != nil {
		return err
	}
	fc.client = client
	fc.state = StateDelegate
	return nil
}

// Finish returns the component to standby.
func (fc *FileController) Finish() {
	fc.state = StateStandby
	fc.client = nil
	fc.tran = 0
	fc.FinishBase()
}

// Close finishes the component and unregisters it.
func (fc *FileController) Close() {
	fc.Finish()
	event.Unregister(fc)
}

// OnBaseReady implements devicebase.Hooks.
func (fc *FileController) OnBaseReady() {
	fc.tran = fc.NewTranNo()
	fc.state = StateActive
	w := messages.NewWriter().
		Uint32(fc.tran).
		Uint32(uint32(fc.action)).
		String(fc.fileName).
		String(fc.param)
	if err := fc.Send(messages.TypeFileControlCmd, w); err != nil {
		fc.post(FileControlOutcomeSessionFailed, 0)
	}
}

// OnBaseFailure implements devicebase.Hooks.
func (fc *FileController) OnBaseFailure(f devicebase.Failure) {
	fc.post(fileControlOutcomeFromFailure(f), 0)
}

// OnBaseSessionFailure implements devicebase.Hooks.
func (fc *FileController) OnBaseSessionFailure() {
	fc.post(FileControlOutcomeSessionFailed, 0)
}

// OnNetMessage implements devicebase.Hooks.
func (fc *FileController) OnNetMessage(msg *messages.Message) {
	if fc.state != StateActive || msg.Type != messages.TypeFileControlAck {
		fc.HandleNetMessage(msg)
		return
	}
	r, tran, code := ackHeader(msg)
	holdOff := time.Duration(r.Uint32()) * time.Second
	if r.Err() != nil || tran != fc.tran {
		return
	}
	fc.post(decodeFileControlOutcome(code), holdOff)
}

func (fc *FileController) post(o FileControlOutcome, holdOff time.Duration) {
	fc.Post(&fileControlEvent{
		Base:    event.Base{Dest: fc, Client: fc.Client()},
		outcome: o,
		holdOff: holdOff,
	})
}

// Receive implements event.Receiver.
func (fc *FileController) Receive(ev event.Event) {
	e, ok := ev.(*fileControlEvent)
	if !ok {
		return
	}
	current, callable := accept(fc.DeviceBase.ClientBase, e.Client)
	if !current {
		return
	}
	client := fc.client
	fc.Logger().Debug("file control complete", slog.String("outcome", e.outcome.String()))
	fc.Finish()
	if callable {
		client.OnComplete(fc, e.outcome, e.holdOff)
	}
}
