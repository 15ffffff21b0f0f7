package devicebase

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/messages"
	"github.com/jtrauntvein/coratools/router"
	"github.com/jtrauntvein/coratools/router/routertest"
)

type hookRecorder struct {
	ready          int
	failures       []Failure
	sessionFailure int
	msgs           []*messages.Message
}

func (h *hookRecorder) OnBaseReady()                       { h.ready++ }
func (h *hookRecorder) OnBaseFailure(f Failure)            { h.failures = append(h.failures, f) }
func (h *hookRecorder) OnBaseSessionFailure()              { h.sessionFailure++ }
func (h *hookRecorder) OnNetMessage(msg *messages.Message) { h.msgs = append(h.msgs, msg) }

type client struct{ _ int }

func newClient(t *testing.T) *client {
	t.Helper()
	c := &client{}
	event.Register(c)
	t.Cleanup(func() { event.Unregister(c) })
	return c
}

func newFake() (*routertest.Router, *event.Dispatcher) {
	d := event.NewDispatcher()
	return routertest.New(d), d
}

func TestFailureStrings(t *testing.T) {
	for f := FailureUnknown; f <= FailureInvalidDeviceName+1; f++ {
		assert.NotEmpty(t, f.String())
		var buf bytes.Buffer
		Describe(&buf, f)
		assert.NotEmpty(t, buf.String())
	}
	assert.Equal(t, "Unknown(42)", Failure(42).String())
}

func TestSettersOnlyInStandby(t *testing.T) {
	fake, _ := newFake()
	h := &hookRecorder{}
	b := NewDeviceBase(h)

	require.NoError(t, b.SetAppName("app"))
	require.NoError(t, b.SetDeviceName("cr1000"))
	require.NoError(t, b.StartBase(newClient(t), fake))

	assert.True(t, errors.Is(b.SetAppName("x"), ErrInvalidState))
	assert.True(t, errors.Is(b.SetLogonName("x"), ErrInvalidState))
	assert.True(t, errors.Is(b.SetLogonPassword("x"), ErrInvalidState))
	assert.True(t, errors.Is(b.SetDeviceName("x"), ErrInvalidState))
	assert.True(t, errors.Is(b.SetLogger(nil), ErrInvalidState))

	b.FinishBase()
	assert.NoError(t, b.SetDeviceName("cr6"))
	assert.Equal(t, "cr6", b.DeviceName())
}

func TestStartPreconditions(t *testing.T) {
	fake, _ := newFake()
	b := NewClientBase(&hookRecorder{})

	assert.True(t, errors.Is(b.StartBase(&client{}, fake), ErrInvalidClient))
	assert.True(t, errors.Is(b.StartBase(nil, fake), ErrInvalidClient))
	assert.True(t, errors.Is(b.StartBase(newClient(t), nil), ErrInvalidRouter))

	cl := newClient(t)
	require.NoError(t, b.StartBase(cl, fake))
	assert.True(t, errors.Is(b.StartBase(cl, fake), ErrInvalidState))

	fake.OpenErr = router.ErrClosed
	other := NewClientBase(&hookRecorder{})
	err := other.StartBase(cl, fake)
	assert.True(t, errors.Is(err, ErrInvalidRouter))
	assert.True(t, errors.Is(err, router.ErrClosed))
	assert.True(t, other.IsStandby())
}

func TestLogonSuccess(t *testing.T) {
	fake, d := newFake()
	fake.InterfaceVersion = "1.3.4.2"
	h := &hookRecorder{}
	b := NewClientBase(h)
	require.NoError(t, b.SetAppName("tester"))
	require.NoError(t, b.SetLogonName("admin"))

	cl := newClient(t)
	require.NoError(t, b.StartBase(cl, fake))
	assert.Equal(t, StateDelegate, b.BaseState())
	assert.Equal(t, 0, h.ready, "ready must not be reported inside StartBase")

	logon := fake.Last(messages.TypeLogonCmd)
	require.NotNil(t, logon)
	r := logon.Reader()
	r.Uint32()
	assert.Equal(t, "tester", r.String())
	assert.Equal(t, "admin", r.String())

	d.Pump()
	assert.Equal(t, 1, h.ready)
	assert.Equal(t, StateReady, b.BaseState())
	assert.Equal(t, messages.MustParseVersion("1.3.4.2"), b.InterfaceVersion())
	assert.Same(t, cl, b.Client())
	assert.True(t, b.ClientValid(cl))

	fake.Reply(messages.New(b.Session(), messages.TypeClockCheckAck, nil))
	d.Pump()
	require.Len(t, h.msgs, 1)
	assert.Equal(t, messages.TypeClockCheckAck, h.msgs[0].Type)
}

func TestLogonFailures(t *testing.T) {
	tests := []struct {
		code uint32
		want Failure
	}{
		{2, FailureInvalidLogon},
		{3, FailureSecurityBlocked},
		{4, FailureUnsupported},
		{77, FailureUnknown},
	}
	for _, tt := range tests {
		fake, d := newFake()
		fake.LogonOutcome = tt.code
		h := &hookRecorder{}
		b := NewClientBase(h)
		require.NoError(t, b.StartBase(newClient(t), fake))
		d.Pump()
		assert.Equal(t, []Failure{tt.want}, h.failures, "code %d", tt.code)
		assert.Equal(t, 0, h.ready)
	}
}

func TestDeviceOpen(t *testing.T) {
	fake, d := newFake()
	h := &hookRecorder{}
	b := NewDeviceBase(h)
	require.NoError(t, b.SetDeviceName("cr1000"))
	require.NoError(t, b.StartBase(newClient(t), fake))
	d.Pump()

	open := fake.Last(messages.TypeDeviceOpenCmd)
	require.NotNil(t, open)
	r := open.Reader()
	r.Uint32()
	assert.Equal(t, "cr1000", r.String())
	assert.Equal(t, 1, h.ready)

	fake2, d2 := newFake()
	fake2.DeviceOpenOutcome = 5
	h2 := &hookRecorder{}
	b2 := NewDeviceBase(h2)
	require.NoError(t, b2.StartBase(newClient(t), fake2))
	d2.Pump()
	assert.Equal(t, []Failure{FailureInvalidDeviceName}, h2.failures)
}

func TestSessionLoss(t *testing.T) {
	fake, d := newFake()
	h := &hookRecorder{}
	b := NewClientBase(h)
	require.NoError(t, b.StartBase(newClient(t), fake))
	d.Pump()

	fake.CloseFromServer(b.Session(), router.CloseReasonServer)
	d.Pump()
	assert.Equal(t, 1, h.sessionFailure)
	assert.Equal(t, uint32(0), b.Session())

	b.FinishBase()
	assert.Empty(t, fake.Closed(), "a session closed by the server is not closed again")
}

func TestLogoffNotification(t *testing.T) {
	fake, d := newFake()
	fake.AutoLogon = false
	h := &hookRecorder{}
	b := NewClientBase(h)
	require.NoError(t, b.StartBase(newClient(t), fake))
	fake.Reply(messages.New(b.Session(), messages.TypeLogoffNot, messages.NewWriter().Uint32(0)))
	d.Pump()
	assert.Equal(t, 1, h.sessionFailure)
}

func TestFinishBaseIdempotent(t *testing.T) {
	fake, d := newFake()
	h := &hookRecorder{}
	b := NewClientBase(h)
	b.FinishBase()
	assert.True(t, b.IsStandby())

	require.NoError(t, b.StartBase(newClient(t), fake))
	session := b.Session()
	b.FinishBase()
	b.FinishBase()
	assert.True(t, b.IsStandby())
	assert.Nil(t, b.Client())
	assert.Equal(t, []uint32{session}, fake.Closed())

	d.Pump()
	assert.Equal(t, 0, h.ready, "acks for a finished base are dropped")
}

func TestSendFailureIsDeferred(t *testing.T) {
	fake, d := newFake()
	fake.SendErr = errors.New("broken pipe")
	h := &hookRecorder{}
	b := NewClientBase(h)
	require.NoError(t, b.StartBase(newClient(t), fake))
	assert.Equal(t, 0, h.sessionFailure)
	d.Pump()
	assert.Equal(t, 1, h.sessionFailure)
}

func TestStartBaseShared(t *testing.T) {
	fake, d := newFake()
	first := NewClientBase(&hookRecorder{})
	cl := newClient(t)

	second := NewClientBase(&hookRecorder{})
	assert.True(t, errors.Is(second.StartBaseShared(cl, first), ErrInvalidRouter))
	assert.True(t, errors.Is(second.StartBaseShared(cl, nil), ErrInvalidRouter))

	require.NoError(t, first.StartBase(cl, fake))
	d.Pump()

	h := &hookRecorder{}
	shared := NewClientBase(h)
	require.NoError(t, shared.StartBaseShared(cl, first))
	assert.Equal(t, 0, h.ready)
	d.Pump()
	assert.Equal(t, 1, h.ready)
	assert.NotEqual(t, first.Session(), shared.Session())
	assert.Equal(t, first.InterfaceVersion(), shared.InterfaceVersion())
	assert.Len(t, fake.SentOfType(messages.TypeLogonCmd), 1)
}

func TestNewTranNoNeverZero(t *testing.T) {
	b := NewClientBase(&hookRecorder{})
	b.lastTran = ^uint32(0)
	assert.Equal(t, uint32(1), b.NewTranNo())
	assert.Equal(t, uint32(2), b.NewTranNo())
}
