// Package dbsource is a data source that reads time-series tables from a
// relational database.
//
// Every table read carries a TmStamp and a RecNum column. Requests that
// address the same table with compatible start conditions share a Cursor,
// and each cursor runs at most one query at a time. Queries, connects and
// listings execute on a worker pool; results return to the dispatcher
// goroutine as events, where all Source and Cursor state lives.
//
// # Usage
//
//	cs, err := dbsource.ParseConnectString("db-type=mysql;db-data-source=db.local;db-initial-catalog=site")
//	...
//	src := dbsource.New("db", manager, cs)
//	manager.AddSource(src)
//	manager.AddRequest(datasource.NewRequest(sink, "db:Table1.BattV"))
//	manager.Start()
package dbsource

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/jtrauntvein/coratools/datasource"
	"github.com/jtrauntvein/coratools/devicebase"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/retry"
	"github.com/jtrauntvein/coratools/worker"
)

// ErrInvalidState is returned by setters while the source is connected or
// connecting.
var ErrInvalidState = devicebase.ErrInvalidState

const (
	// DefaultBatchSize is the number of records posted per event.
	DefaultBatchSize = 100
	// DefaultPollInterval is the period of the poll timer.
	DefaultPollInterval = time.Second
	// DefaultWorkers is the number of worker goroutines.
	DefaultWorkers = 2

	workQueueSize = 256
	stopTimeout   = 5 * time.Second
)

// DefaultRetry is the reconnect schedule used unless WithRetry is given.
func DefaultRetry() retry.Config {
	return retry.Persistent()
}

// Source serves requests from a database. Except for the blocking listing
// calls, its methods must be called on the dispatcher goroutine.
type Source struct {
	name   string
	mgr    *datasource.Manager
	d      *event.Dispatcher
	logger *slog.Logger

	cs           ConnectString
	newBackend   BackendFactory
	pollInterval time.Duration
	batchSize    int
	workers      int
	retryConfig  retry.Config

	pool    *worker.Pool[command]
	exec    func(command) error
	cancel  context.CancelFunc
	metrics *Metrics
	backoff *retry.Backoff

	wanted    bool
	connected bool
	attempt   Backend
	backend   Backend
	requests  []*datasource.Request
	cursors   []*Cursor

	stopPoll      func() bool
	stopReconnect func() bool
	closed        bool
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the source logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBackendFactory replaces the SQL backend.
func WithBackendFactory(f BackendFactory) Option {
	return func(s *Source) {
		if f != nil {
			s.newBackend = f
		}
	}
}

// WithPollInterval sets the poll timer period. Zero disables the timer;
// Poll must then be called by the application.
func WithPollInterval(d time.Duration) Option {
	return func(s *Source) {
		s.pollInterval = d
	}
}

// WithBatchSize sets the number of records per posted batch.
func WithBatchSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRetry sets the reconnect schedule.
func WithRetry(cfg retry.Config) Option {
	return func(s *Source) {
		s.retryConfig = cfg
	}
}

// New creates a disconnected source named name. The source posts to the
// manager's dispatcher and starts its worker pool immediately; Close stops it.
func New(name string, mgr *datasource.Manager, cs ConnectString, opts ...Option) *Source {
	s := &Source{
		name:         name,
		mgr:          mgr,
		d:            mgr.Dispatcher(),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		cs:           cs,
		newBackend:   NewSQLBackend,
		pollInterval: DefaultPollInterval,
		batchSize:    DefaultBatchSize,
		workers:      DefaultWorkers,
		retryConfig:  DefaultRetry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "dbsource"), slog.String("source", name))
	s.backoff = retry.NewBackoff(s.retryConfig)

	s.pool = worker.NewPool(s.workers, workQueueSize, func(ctx context.Context, c command) error {
		return c.execute(ctx)
	}, worker.WithMetrics[command]("coratools", "dbsource_worker"))
	s.metrics = newMetrics(name, s.pool.Metrics())

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pool.Start(ctx)
	s.exec = s.pool.Submit

	s.validator().Register(s)
	return s
}

func (s *Source) validator() *event.Validator { return s.d.Validator() }

func (s *Source) post(ev event.Event) { s.d.Post(ev) }

// Name returns the source name.
func (s *Source) Name() string { return s.name }

// Metrics returns the source's prometheus collectors.
func (s *Source) Metrics() *Metrics { return s.metrics }

// ConnectString returns the connect string.
func (s *Source) ConnectString() ConnectString { return s.cs }

// SetConnectString sets the connect string used by the next Connect.
func (s *Source) SetConnectString(cs ConnectString) error {
	if s.connected || s.attempt != nil {
		return ErrInvalidState
	}
	s.cs = cs
	return nil
}

// SetLogger sets the source logger.
func (s *Source) SetLogger(logger *slog.Logger) error {
	if s.connected || s.attempt != nil {
		return ErrInvalidState
	}
	if logger != nil {
		s.logger = logger.With(slog.String("component", "dbsource"), slog.String("source", s.name))
	}
	return nil
}

// IsConnected reports whether the backend is open.
func (s *Source) IsConnected() bool { return s.connected }

// Cursors returns the live cursors.
func (s *Source) Cursors() []*Cursor {
	return append([]*Cursor(nil), s.cursors...)
}

// Connect opens the backend on a worker. The outcome arrives as an event;
// on failure every request fails with SinkFailureConnectionFailed and a
// reconnect is scheduled.
func (s *Source) Connect() {
	s.wanted = true
	if s.closed || s.connected || s.attempt != nil {
		return
	}
	stop(&s.stopReconnect)
	b := s.newBackend()
	s.attempt = b
	s.logger.Debug("connecting", slog.String("type", s.cs.Type.String()), slog.String("data_source", s.cs.DataSource))
	cmd := &connectCommand{backend: b, dest: s, post: s.post, cs: s.cs}
	if err := s.exec(cmd); err != nil {
		s.post(&connectEvent{Base: event.Base{Dest: s}, backend: b, err: err})
	}
}

// Disconnect closes the backend and abandons every query. Requests stay
// with the source and resume on the next Connect.
func (s *Source) Disconnect() {
	s.wanted = false
	stop(&s.stopPoll)
	stop(&s.stopReconnect)
	s.attempt = nil
	for _, c := range s.cursors {
		c.close()
	}
	s.cursors = nil
	for _, r := range s.requests {
		if r.State() == datasource.RequestReady {
			r.SetState(datasource.RequestPending)
			r.SetExpectMoreData(false)
		}
	}
	if s.backend != nil {
		s.closeBackend(s.backend)
		s.backend = nil
	}
	if s.connected {
		s.logger.Info("disconnected")
	}
	s.connected = false
	s.backoff.Reset()
}

// Close disconnects, stops the worker pool and drops undelivered events.
func (s *Source) Close() {
	if s.closed {
		return
	}
	s.Disconnect()
	s.closed = true
	s.validator().Unregister(s)
	if err := s.pool.Stop(stopTimeout); err != nil {
		s.logger.Warn("worker pool did not stop", slog.Any("error", err))
	}
	s.cancel()
}

func (s *Source) closeBackend(b Backend) {
	if err := s.exec(closeCommand{backend: b}); err != nil {
		_ = b.Close()
	}
}

// AddRequest takes r. A URI that does not parse fails r asynchronously.
func (s *Source) AddRequest(r *datasource.Request) {
	s.requests = append(s.requests, r)
	u, err := ParseURI(r.URI())
	if err != nil {
		s.logger.Debug("invalid request uri", slog.String("uri", r.URI()), slog.Any("error", err))
		s.postRequestFailure(r, datasource.SinkFailureInvalidURI)
		return
	}
	r.SetWart(u)
}

// RemoveRequest drops r and any cursor left without requests.
func (s *Source) RemoveRequest(r *datasource.Request) {
	for i, x := range s.requests {
		if x == r {
			s.requests = append(s.requests[:i], s.requests[i+1:]...)
			break
		}
	}
	for _, c := range s.Cursors() {
		if c.has(r) && c.RemoveRequest(r) {
			s.removeCursor(c)
		}
	}
}

func (s *Source) hasRequest(r *datasource.Request) bool {
	for _, x := range s.requests {
		if x == r {
			return true
		}
	}
	return false
}

func (s *Source) cursorFor(r *datasource.Request) *Cursor {
	for _, c := range s.cursors {
		if c.has(r) {
			return c
		}
	}
	return nil
}

func (s *Source) removeCursor(c *Cursor) {
	for i, x := range s.cursors {
		if x == c {
			s.cursors = append(s.cursors[:i], s.cursors[i+1:]...)
			break
		}
	}
	c.close()
}

// eligible reports whether r should be placed on a cursor: it parsed, is
// not already placed, and is new or waiting out a lost connection.
func (s *Source) eligible(r *datasource.Request) bool {
	if _, ok := uriOf(r); !ok || s.cursorFor(r) != nil {
		return false
	}
	switch r.State() {
	case datasource.RequestPending:
		return true
	case datasource.RequestError:
		return r.Failure() == datasource.SinkFailureConnectionFailed
	default:
		return false
	}
}

// ActivateRequests places waiting requests on cursors and starts the new
// cursors. It does nothing until the source is connected.
func (s *Source) ActivateRequests() {
	if !s.connected {
		return
	}
	for _, r := range append([]*datasource.Request(nil), s.requests...) {
		if !s.eligible(r) {
			continue
		}
		r.SetState(datasource.RequestPending)
		placed := false
		for _, c := range s.cursors {
			if c.AddRequest(r) {
				placed = true
				break
			}
		}
		if !placed {
			c := newCursor(s)
			c.AddRequest(r)
			s.cursors = append(s.cursors, c)
		}
	}
	for _, c := range s.Cursors() {
		if c.State() == CursorNotStarted && !c.closed {
			c.Start()
		}
	}
}

// Poll asks every cursor that is ready to look for new records.
func (s *Source) Poll() {
	if !s.connected {
		return
	}
	for _, c := range s.Cursors() {
		if !c.closed {
			c.Poll()
		}
	}
}

func (s *Source) postRequestFailure(r *datasource.Request, f datasource.SinkFailure) {
	s.post(&requestFailureEvent{Base: event.Base{Dest: s}, req: r, failure: f})
}

// failCursor destroys c and reports f to each of its unsatisfied requests.
// The requests stay with the source.
func (s *Source) failCursor(c *Cursor, f datasource.SinkFailure) {
	reqs := c.Requests()
	s.removeCursor(c)
	for _, r := range reqs {
		if r.State() == datasource.RequestSatisfied || !s.hasRequest(r) {
			continue
		}
		s.mgr.ReportFailure(r, f)
	}
}

// failAll reports a connection failure to every request that is not
// satisfied and has not already been told.
func (s *Source) failAll() {
	for _, c := range s.Cursors() {
		if c.State() != CursorSatisfied {
			s.failCursor(c, datasource.SinkFailureConnectionFailed)
		}
	}
	for _, r := range append([]*datasource.Request(nil), s.requests...) {
		if r.State() != datasource.RequestPending || s.cursorFor(r) != nil || !s.hasRequest(r) {
			continue
		}
		if _, ok := uriOf(r); ok {
			s.mgr.ReportFailure(r, datasource.SinkFailureConnectionFailed)
		}
	}
}

type requestFailureEvent struct {
	event.Base
	req     *datasource.Request
	failure datasource.SinkFailure
}

type pollEvent struct {
	event.Base
}

type reconnectEvent struct {
	event.Base
}

// Receive implements event.Receiver.
func (s *Source) Receive(ev event.Event) {
	switch e := ev.(type) {
	case *connectEvent:
		s.onConnect(e)
	case *lostEvent:
		s.onLost(e)
	case *requestFailureEvent:
		s.onRequestFailure(e)
	case *pollEvent:
		s.stopPoll = nil
		if s.connected {
			s.Poll()
			s.armPoll()
		}
	case *reconnectEvent:
		s.stopReconnect = nil
		if s.wanted {
			s.Connect()
		}
	}
}

func (s *Source) onConnect(e *connectEvent) {
	if e.backend != s.attempt {
		if e.err == nil {
			s.closeBackend(e.backend)
		}
		return
	}
	s.attempt = nil
	if e.err != nil {
		s.logger.Warn("connect failed", slog.Any("error", e.err))
		s.connectionFailed()
		return
	}
	s.connected = true
	s.backend = e.backend
	s.backoff.Reset()
	s.logger.Info("connected")
	s.ActivateRequests()
	s.armPoll()
}

func (s *Source) onLost(e *lostEvent) {
	if !s.connected || e.backend != s.backend {
		return
	}
	s.logger.Warn("connection lost", slog.Any("error", e.err))
	s.closeBackend(s.backend)
	s.backend = nil
	s.connected = false
	stop(&s.stopPoll)
	s.connectionFailed()
}

func (s *Source) connectionFailed() {
	s.metrics.connectFailures.Inc()
	s.failAll()
	if !s.wanted || s.closed {
		return
	}
	delay, ok := s.backoff.Next()
	if !ok {
		s.logger.Error("giving up on reconnect", slog.Int("attempts", s.backoff.Attempts()))
		return
	}
	s.metrics.reconnects.Inc()
	s.logger.Debug("reconnect scheduled", slog.Duration("delay", delay))
	s.stopReconnect = s.d.PostAfter(delay, &reconnectEvent{Base: event.Base{Dest: s}})
}

func (s *Source) onRequestFailure(e *requestFailureEvent) {
	if !s.hasRequest(e.req) {
		return
	}
	s.RemoveRequest(e.req)
	s.mgr.ReportFailure(e.req, e.failure)
}

func (s *Source) armPoll() {
	if s.pollInterval <= 0 || s.stopPoll != nil {
		return
	}
	s.stopPoll = s.d.PostAfter(s.pollInterval, &pollEvent{Base: event.Base{Dest: s}})
}

func stop(timer *func() bool) {
	if *timer != nil {
		(*timer)()
		*timer = nil
	}
}
