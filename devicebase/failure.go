package devicebase

import (
	"fmt"
	"io"
)

// Failure is the generic failure category reported by the base. Components
// map it onto their own outcome codes.
type Failure int

const (
	// FailureUnknown is reported for server codes the base does not recognise.
	FailureUnknown Failure = iota
	// FailureSession means the session to the server was lost.
	FailureSession
	// FailureInvalidLogon means the server rejected the logon name or password.
	FailureInvalidLogon
	// FailureSecurityBlocked means server security denied the request.
	FailureSecurityBlocked
	// FailureUnsupported means the server does not implement the transaction.
	FailureUnsupported
	// FailureInvalidDeviceName means the device does not exist on the server.
	FailureInvalidDeviceName
)

// String returns the string representation of the failure.
func (f Failure) String() string {
	switch f {
	case FailureUnknown:
		return "Unknown"
	case FailureSession:
		return "SessionFailed"
	case FailureInvalidLogon:
		return "InvalidLogon"
	case FailureSecurityBlocked:
		return "SecurityBlocked"
	case FailureUnsupported:
		return "Unsupported"
	case FailureInvalidDeviceName:
		return "InvalidDeviceName"
	default:
		return fmt.Sprintf("Unknown(%d)", f)
	}
}

// Describe writes a human readable description of f.
func Describe(w io.Writer, f Failure) {
	var s string
	switch f {
	case FailureSession:
		s = "the session with the server failed"
	case FailureInvalidLogon:
		s = "invalid user name or password"
	case FailureSecurityBlocked:
		s = "server security blocked the request"
	case FailureUnsupported:
		s = "the server does not support this transaction"
	case FailureInvalidDeviceName:
		s = "invalid device name"
	default:
		s = "unrecognised failure"
	}
	_, _ = io.WriteString(w, s)
}

// Outcome codes carried by logon and device-open acks.
const (
	ackSuccess         uint32 = 1
	ackInvalidLogon    uint32 = 2
	ackSecurityBlocked uint32 = 3
	ackUnsupported     uint32 = 4
	ackInvalidDevice   uint32 = 5
)

func logonFailure(code uint32) Failure {
	switch code {
	case ackInvalidLogon:
		return FailureInvalidLogon
	case ackSecurityBlocked:
		return FailureSecurityBlocked
	case ackUnsupported:
		return FailureUnsupported
	default:
		return FailureUnknown
	}
}

func deviceFailure(code uint32) Failure {
	switch code {
	case ackInvalidDevice:
		return FailureInvalidDeviceName
	case ackSecurityBlocked:
		return FailureSecurityBlocked
	case ackUnsupported:
		return FailureUnsupported
	default:
		return FailureUnknown
	}
}
