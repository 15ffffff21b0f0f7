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

// DefaultEstimateInterval is the time between server time queries.
const DefaultEstimateInterval = 30 * time.Second

// EstimatorFailure says why a ServerTimeEstimator stopped.
type EstimatorFailure int

// Estimator failures.
const (
	EstimatorFailureUnknown EstimatorFailure = iota
	EstimatorFailureSession
	EstimatorFailureInvalidLogon
	EstimatorFailureSecurityBlocked
	EstimatorFailureUnsupported
)

var estimatorFailureText = map[EstimatorFailure]text{
	EstimatorFailureUnknown:         {"Unknown", "an unrecognised estimator failure"},
	EstimatorFailureSession:         {"SessionFailed", "the session with the server failed"},
	EstimatorFailureInvalidLogon:    {"InvalidLogon", "invalid user name or password"},
	EstimatorFailureSecurityBlocked: {"SecurityBlocked", "server security blocked the time query"},
	EstimatorFailureUnsupported:     {"Unsupported", "the server does not report its time"},
}

// String returns the name of the failure.
func (f EstimatorFailure) String() string { return enumName(estimatorFailureText, f) }

// Describe writes a description of the failure.
func (f EstimatorFailure) Describe(w io.Writer) { enumDescribe(w, estimatorFailureText, f) }

func estimatorFailureFromBase(f devicebase.Failure) EstimatorFailure {
	switch f {
	case devicebase.FailureSession:
		return EstimatorFailureSession
	case devicebase.FailureInvalidLogon:
		return EstimatorFailureInvalidLogon
	case devicebase.FailureSecurityBlocked:
		return EstimatorFailureSecurityBlocked
	case devicebase.FailureUnsupported:
		return EstimatorFailureUnsupported
	default:
		return EstimatorFailureUnknown
	}
}

// ServerTimeEstimatorClient receives notifications from a
// ServerTimeEstimator.
type ServerTimeEstimatorClient interface {
	// OnStarted is called after the first estimate is available.
	OnStarted(e *ServerTimeEstimator)
	// OnTimeEstimate is called for every estimate, including the first.
	OnTimeEstimate(e *ServerTimeEstimator, estimate time.Time)
	// OnFailure is called when the estimator stops.
	OnFailure(e *ServerTimeEstimator, failure EstimatorFailure)
}

// ServerTimeEstimator keeps an estimate of the server clock by querying it
// periodically and correcting each answer by half the round trip.
type ServerTimeEstimator struct {
	*devicebase.ClientBase

	interval time.Duration
	now      func() time.Time

	state     State
	client    ServerTimeEstimatorClient
	tran      uint32
	sentAt    time.Time
	started   bool
	stopTimer func() bool

	estimate  time.Time
	estimated time.Time // local time at which estimate was made
}

type estimatorKind int

const (
	estimatorStarted estimatorKind = iota
	estimatorEstimate
	estimatorFailed
	estimatorTimer
)

type estimatorEvent struct {
	event.Base
	kind     estimatorKind
	estimate time.Time
	failure  EstimatorFailure
}

// NewServerTimeEstimator creates an estimator and registers it with the
// event validator.
func NewServerTimeEstimator() *ServerTimeEstimator {
	e := &ServerTimeEstimator{interval: DefaultEstimateInterval, now: time.Now}
	e.ClientBase = devicebase.NewClientBase(e)
	event.Register(e)
	return e
}

// State returns the component state.
func (e *ServerTimeEstimator) State() State { return e.state }

// SetInterval sets the time between queries.
func (e *ServerTimeEstimator) SetInterval(d time.Duration) error {
	if err := e.CheckStandby(); err != nil {
		return err
	}
	if d > 0 {
		e.interval = d
	}
	return nil
}

// ServerTime returns the current server time extrapolated from the last
// estimate, or the zero time if there has been none.
func (e *ServerTimeEstimator) ServerTime() time.Time {
	if e.estimate.IsZero() {
		return time.Time{}
	}
	return e.estimate.Add(e.now().Sub(e.estimated))
}

// Start begins estimating on a new session of r.
func (e *ServerTimeEstimator) Start(client ServerTimeEstimatorClient, r router.Router) error {
	return e.start(client, func() error { return e.StartBase(client, r) })
}

// StartShared begins estimating on the connection used by other.
func (e *ServerTimeEstimator) StartShared(client ServerTimeEstimatorClient, other devicebase.Peer) error {
	return e.start(client, func() error { return e.StartBaseShared(client, other) })
}

func (e *ServerTimeEstimator) start(client ServerTimeEstimatorClient, startBase func() error) error {
	if !event.IsValid(client) {
		return ErrInvalidClient
	}
	if err := startBase(); err != nil {
		return err
	}
	e.client = client
	e.state = StateDelegate
	e.started = false
	return nil
}

// Finish stops estimating. The last estimate remains available through
// ServerTime.
func (e *ServerTimeEstimator) Finish() {
	if e.stopTimer != nil {
		e.stopTimer()
		e.stopTimer = nil
	}
	e.state = StateStandby
	e.client = nil
	e.tran = 0
	e.FinishBase()
}

// Close finishes the component and unregisters it.
func (e *ServerTimeEstimator) Close() {
	e.Finish()
	event.Unregister(e)
}

// OnBaseReady implements devicebase.Hooks.
func (e *ServerTimeEstimator) OnBaseReady() {
	e.state = StateActive
	e.query()
}

func (e *ServerTimeEstimator) query() {
	e.tran = e.NewTranNo()
	e.sentAt = e.now()
	if err := e.Send(messages.TypeGetServerTimeCmd, messages.NewWriter().Uint32(e.tran)); err != nil {
		e.post(estimatorEvent{kind: estimatorFailed, failure: EstimatorFailureSession})
	}
}

// OnBaseFailure implements devicebase.Hooks.
func (e *ServerTimeEstimator) OnBaseFailure(f devicebase.Failure) {
	e.post(estimatorEvent{kind: estimatorFailed, failure: estimatorFailureFromBase(f)})
}

// OnBaseSessionFailure implements devicebase.Hooks.
func (e *ServerTimeEstimator) OnBaseSessionFailure() {
	e.post(estimatorEvent{kind: estimatorFailed, failure: EstimatorFailureSession})
}

// OnNetMessage implements devicebase.Hooks.
func (e *ServerTimeEstimator) OnNetMessage(msg *messages.Message) {
	if e.state != StateActive || msg.Type != messages.TypeGetServerTimeAck {
		e.HandleNetMessage(msg)
		return
	}
	r := msg.Reader()
	tran := r.Uint32()
	serverTime := r.Time()
	if r.Err() != nil || tran != e.tran {
		return
	}

	received := e.now()
	e.estimate = serverTime.Add(received.Sub(e.sentAt) / 2)
	e.estimated = received
	e.Logger().Debug("server time estimated",
		slog.Time("estimate", e.estimate),
		slog.Duration("round_trip", received.Sub(e.sentAt)))

	if !e.started {
		e.started = true
		e.post(estimatorEvent{kind: estimatorStarted})
	}
	e.post(estimatorEvent{kind: estimatorEstimate, estimate: e.estimate})
	e.stopTimer = e.Router().Dispatcher().PostAfter(e.interval, &estimatorEvent{
		Base: event.Base{Dest: e, Client: e.Client()},
		kind: estimatorTimer,
	})
}

func (e *ServerTimeEstimator) post(ev estimatorEvent) {
	ev.Base = event.Base{Dest: e, Client: e.Client()}
	e.Post(&ev)
}

// Receive implements event.Receiver.
func (e *ServerTimeEstimator) Receive(ev event.Event) {
	ee, ok := ev.(*estimatorEvent)
	if !ok {
		return
	}
	current, callable := accept(e.ClientBase, ee.Client)
	if !current {
		return
	}
	client := e.client
	if !callable {
		e.Finish()
		return
	}
	switch ee.kind {
	case estimatorStarted:
		client.OnStarted(e)
	case estimatorEstimate:
		client.OnTimeEstimate(e, ee.estimate)
	case estimatorTimer:
		e.stopTimer = nil
		if e.state == StateActive {
			e.query()
		}
	case estimatorFailed:
		e.Finish()
		client.OnFailure(e, ee.failure)
	}
}
