package loggernet

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router/routertest"
)

func newFake() (*routertest.Router, *event.Dispatcher) {
	d := event.NewDispatcher()
	return routertest.New(d), d
}

// register makes c a valid client for the duration of the test.
func register[T any](t *testing.T, c *T) *T {
	t.Helper()
	event.Register(c)
	t.Cleanup(func() { event.Unregister(c) })
	return c
}

func unregister(c any) { event.Unregister(c) }

// answer replies to the most recent cmd message with an ack of type ack
// whose body starts with the command's transaction number.
func answer(t *testing.T, fake *routertest.Router, cmd, ack messages.Type, build func(w *messages.Writer)) {
	t.Helper()
	msg := fake.Last(cmd)
	require.NotNil(t, msg, "no %s sent", cmd)
	w := messages.NewWriter().Uint32(msg.Reader().Uint32())
	if build != nil {
		build(w)
	}
	fake.Reply(messages.New(msg.Session, ack, w))
}

func code(c uint32) func(w *messages.Writer) {
	return func(w *messages.Writer) { w.Uint32(c) }
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Standby", StateStandby.String())
	assert.Equal(t, "Delegate", StateDelegate.String())
	assert.Equal(t, "Active", StateActive.String())
	assert.Equal(t, "Unknown(9)", State(9).String())
}

func TestFormatOutcomeIsTotal(t *testing.T) {
	// Every outcome type, from its zero value to one past its last value.
	var outcomes []Outcome
	for o := ClockOutcomeUnknown; o <= ClockOutcomeDeviceBusy+1; o++ {
		outcomes = append(outcomes, o)
	}
	for o := ConnectionFailureUnknown; o <= ConnectionFailureCancelled+1; o++ {
		outcomes = append(outcomes, o)
	}
	for o := FileControlOutcomeUnknown; o <= FileControlOutcomeLoggerTimedOut+1; o++ {
		outcomes = append(outcomes, o)
	}
	for o := FileSendOutcomeUnknown; o <= FileSendOutcomeSourceReadFailed+1; o++ {
		outcomes = append(outcomes, o)
	}
	for o := ProgramSendOutcomeUnknown; o <= ProgramSendOutcomeSourceReadFailed+1; o++ {
		outcomes = append(outcomes, o)
	}
	for o := EstimatorFailureUnknown; o <= EstimatorFailureUnsupported+1; o++ {
		outcomes = append(outcomes, o)
	}
	for o := EnumFailureUnknown; o <= EnumFailureInvalidDeviceName+1; o++ {
		outcomes = append(outcomes, o)
	}

	for _, o := range outcomes {
		t.Run(fmt.Sprintf("%T/%s", o, o), func(t *testing.T) {
			assert.NotEmpty(t, o.String())
			var buf bytes.Buffer
			FormatOutcome(&buf, o)
			assert.NotEmpty(t, buf.String())
		})
	}

	assert.Equal(t, "Unknown(99)", ClockOutcome(99).String())
	var buf bytes.Buffer
	FormatOutcome(&buf, FileSendOutcome(-1))
	assert.Equal(t, "unrecognised outcome", buf.String())
}

func TestDecodersMapUnknownCodes(t *testing.T) {
	assert.Equal(t, ClockOutcomeUnknown, decodeClockOutcome(0))
	assert.Equal(t, ClockOutcomeUnknown, decodeClockOutcome(200))
	assert.Equal(t, FileControlOutcomeUnknown, decodeFileControlOutcome(77))
	assert.Equal(t, FileSendOutcomeUnknown, decodeFileSendOutcome(77))
	assert.Equal(t, ProgramSendOutcomeUnknown, decodeProgramSendOutcome(77))
	assert.Equal(t, EnumFailureUnknown, decodeEnumFailure(77))

	f, ok := decodeManageStatus(77)
	assert.False(t, ok)
	assert.Equal(t, ConnectionFailureUnknown, f)
}

func TestFailureMappingsCoverBase(t *testing.T) {
	tests := []struct {
		base  devicebase.Failure
		clock ClockOutcome
		conn  ConnectionFailure
		enum  EnumFailure
	}{
		{devicebase.FailureSession, ClockOutcomeSessionFailed, ConnectionFailureSession, EnumFailureSession},
		{devicebase.FailureInvalidLogon, ClockOutcomeInvalidLogon, ConnectionFailureInvalidLogon, EnumFailureInvalidLogon},
		{devicebase.FailureSecurityBlocked, ClockOutcomeServerSecurityBlocked, ConnectionFailureSecurityBlocked, EnumFailureSecurityBlocked},
		{devicebase.FailureUnsupported, ClockOutcomeUnsupported, ConnectionFailureUnsupported, EnumFailureUnsupported},
		{devicebase.FailureInvalidDeviceName, ClockOutcomeInvalidDeviceName, ConnectionFailureInvalidDeviceName, EnumFailureInvalidDeviceName},
		{devicebase.FailureUnknown, ClockOutcomeUnknown, ConnectionFailureUnknown, EnumFailureUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.base.String(), func(t *testing.T) {
			assert.Equal(t, tt.clock, clockOutcomeFromFailure(tt.base))
			assert.Equal(t, tt.conn, connectionFailureFromBase(tt.base))
			assert.Equal(t, tt.enum, enumFailureFromBase(tt.base))
		})
	}
}
