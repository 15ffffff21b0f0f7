package datasource

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/jtrauntvein/coratools/event"
)

// Source is a named provider of records.
type Source interface {
	Name() string
	Connect()
	Disconnect()
	IsConnected() bool
	// AddRequest takes ownership of r until RemoveRequest.
	AddRequest(r *Request)
	RemoveRequest(r *Request)
	// ActivateRequests starts reading for every request not yet active.
	ActivateRequests()
	Poll()
}

// Manager routes requests to sources and sinks.
type Manager struct {
	d      *event.Dispatcher
	logger *slog.Logger

	sources  map[string]Source
	order    []string
	requests map[*Request]Source
	started  bool
	closed   bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a manager bound to d.
func NewManager(d *event.Dispatcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		d:        d,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		sources:  make(map[string]Source),
		requests: make(map[*Request]Source),
	}
	for _, opt := range opts {
		opt(m)
	}
	d.Validator().Register(m)
	return m
}

// Dispatcher returns the dispatcher sources post to.
func (m *Manager) Dispatcher() *event.Dispatcher { return m.d }

// Logger returns the manager logger.
func (m *Manager) Logger() *slog.Logger { return m.logger }

// IsStarted reports whether Start has been called without Stop.
func (m *Manager) IsStarted() bool { return m.started }

// AddSource adds s under its name. Names must be unique.
func (m *Manager) AddSource(s Source) error {
	name := s.Name()
	if _, ok := m.sources[name]; ok {
		return fmt.Errorf("source %q already exists", name)
	}
	m.sources[name] = s
	m.order = append(m.order, name)
	if m.started {
		s.Connect()
	}
	return nil
}

// Source returns the named source or nil.
func (m *Manager) Source(name string) Source {
	return m.sources[name]
}

// Sources returns the source names in the order they were added.
func (m *Manager) Sources() []string {
	return append([]string(nil), m.order...)
}

// AddRequest hands r to the source named by its URI. A request for an
// unknown source fails asynchronously with SinkFailureInvalidSource.
func (m *Manager) AddRequest(r *Request) {
	r.SetState(RequestPending)
	s, ok := m.sources[SourceName(r.URI())]
	if !ok {
		m.logger.Debug("request for unknown source", slog.String("uri", r.URI()))
		m.d.Post(&failureEvent{Base: event.Base{Dest: m}, req: r, failure: SinkFailureInvalidSource})
		return
	}
	m.requests[r] = s
	s.AddRequest(r)
	if m.started {
		s.ActivateRequests()
	}
}

// RemoveRequest withdraws r from its source. No further callbacks are made
// for it.
func (m *Manager) RemoveRequest(r *Request) {
	s, ok := m.requests[r]
	if !ok {
		return
	}
	delete(m.requests, r)
	s.RemoveRequest(r)
}

// Start connects every source and activates their requests.
func (m *Manager) Start() {
	m.started = true
	for _, name := range m.order {
		s := m.sources[name]
		s.Connect()
		s.ActivateRequests()
	}
}

// Stop disconnects every source.
func (m *Manager) Stop() {
	m.started = false
	for _, name := range m.order {
		m.sources[name].Disconnect()
	}
}

// Poll asks every connected source to look for new records.
func (m *Manager) Poll() {
	for _, name := range m.order {
		if s := m.sources[name]; s.IsConnected() {
			s.Poll()
		}
	}
}

// Close stops the manager and drops any undelivered events addressed to it.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.Stop()
	m.d.Validator().Unregister(m)
}

func (m *Manager) sinkValid(r *Request) bool {
	return m.d.Validator().IsValid(r.Sink())
}

// ReportReady marks r ready and notifies its sink.
func (m *Manager) ReportReady(r *Request, first *Record) {
	r.SetState(RequestReady)
	if m.sinkValid(r) {
		r.Sink().OnSinkReady(m, r, first)
	}
}

// ReportFailure marks r failed and notifies its sink.
func (m *Manager) ReportFailure(r *Request, f SinkFailure) {
	r.SetState(RequestError)
	r.failure = f
	r.SetExpectMoreData(false)
	if m.sinkValid(r) {
		r.Sink().OnSinkFailure(m, r, f)
	}
}

// ReportSatisfied marks r satisfied and notifies its sink.
func (m *Manager) ReportSatisfied(r *Request) {
	r.SetState(RequestSatisfied)
	r.SetExpectMoreData(false)
	if m.sinkValid(r) {
		r.Sink().OnSinkSatisfied(m, r)
	}
}

// ReportRecords delivers recs to the sinks of reqs. Requests sharing a sink
// are delivered in one call, in the order the sinks first appear.
func (m *Manager) ReportRecords(reqs []*Request, recs []*Record) {
	if len(recs) == 0 {
		return
	}
	var sinks []Sink
	groups := make(map[Sink][]*Request)
	for _, r := range reqs {
		s := r.Sink()
		if _, ok := groups[s]; !ok {
			sinks = append(sinks, s)
		}
		groups[s] = append(groups[s], r)
	}
	for _, s := range sinks {
		if m.d.Validator().IsValid(s) {
			s.OnSinkRecords(m, groups[s], recs)
		}
	}
}

type failureEvent struct {
	event.Base
	req     *Request
	failure SinkFailure
}

// Receive implements event.Receiver.
func (m *Manager) Receive(ev event.Event) {
	if e, ok := ev.(*failureEvent); ok {
		m.ReportFailure(e.req, e.failure)
	}
}
