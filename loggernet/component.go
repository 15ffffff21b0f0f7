package loggernet

import (
	"errors"
	"fmt"
	"io"

	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
)

var (
	// ErrInvalidState is returned by Set methods and Start outside standby.
	ErrInvalidState = devicebase.ErrInvalidState
	// ErrInvalidClient is returned by Start for an unregistered client.
	ErrInvalidClient = devicebase.ErrInvalidClient
	// ErrUnsupported is returned by Cancel when the server is too old to
	// accept a stop command.
	ErrUnsupported = errors.New("operation not supported by server")
)

// Interface versions that gate optional behaviour.
var (
	// cancelVersion is the first server version that accepts stop commands
	// for clock and file transactions.
	cancelVersion = messages.MustParseVersion("1.3.1")
	// resourceManageVersion is the first server version with the resource
	// manage transaction.
	resourceManageVersion = messages.MustParseVersion("1.3.6")
)

// State is the lifecycle state of a component.
type State int

const (
	// StateStandby is idle; properties may be set.
	StateStandby State = iota
	// StateDelegate is waiting for the base to log on.
	StateDelegate
	// StateActive has sent its command and is waiting for the server.
	StateActive
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStandby:
		return "Standby"
	case StateDelegate:
		return "Delegate"
	case StateActive:
		return "Active"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Outcome is implemented by every outcome and failure type in this package.
type Outcome interface {
	String() string
	Describe(w io.Writer)
}

// FormatOutcome writes the description of o to w.
func FormatOutcome(w io.Writer, o Outcome) {
	o.Describe(w)
}

type text struct {
	name string
	desc string
}

func enumName[T ~int](table map[T]text, v T) string {
	if t, ok := table[v]; ok {
		return t.name
	}
	return fmt.Sprintf("Unknown(%d)", int(v))
}

func enumDescribe[T ~int](w io.Writer, table map[T]text, v T) {
	desc := "unrecognised outcome"
	if t, ok := table[v]; ok {
		desc = t.desc
	}
	_, _ = io.WriteString(w, desc)
}

// accept sorts a delivered event. current is false when the event was
// captured for an earlier transaction and must be ignored; callable is true
// when the client may be invoked.
func accept(b *devicebase.ClientBase, client any) (current, callable bool) {
	if client == nil || client != b.Client() {
		return false, false
	}
	return true, event.IsValid(client)
}

// ackHeader reads the transaction number and outcome code that lead every
// ack and notification body.
func ackHeader(msg *messages.Message) (r *messages.Reader, tran, code uint32) {
	r = msg.Reader()
	tran = r.Uint32()
	code = r.Uint32()
	return r, tran, code
}
