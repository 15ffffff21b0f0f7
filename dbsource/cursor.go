package dbsource

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jtrauntvein/coratools/datasource"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/worker"
)

// CursorState is the state of a cursor.
type CursorState int

const (
	// CursorNotStarted accepts requests and has run no query.
	CursorNotStarted CursorState = iota
	// CursorRelativeQuery is reading the newest record to learn the start
	// time of a relative request.
	CursorRelativeQuery
	// CursorReadyToPoll is waiting for the next poll.
	CursorReadyToPoll
	// CursorPolling has a query in flight.
	CursorPolling
	// CursorSatisfied has delivered a closed range and will not poll.
	CursorSatisfied
	// CursorError has failed its requests.
	CursorError
)

// String returns the string representation of the state.
func (s CursorState) String() string {
	switch s {
	case CursorNotStarted:
		return "NotStarted"
	case CursorRelativeQuery:
		return "RelativeQuery"
	case CursorReadyToPoll:
		return "ReadyToPoll"
	case CursorPolling:
		return "Polling"
	case CursorSatisfied:
		return "Satisfied"
	case CursorError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Cursor serves a set of compatible requests against one table with a
// single stream of queries. It lives on the dispatcher goroutine.
type Cursor struct {
	source *Source
	logger *slog.Logger

	requests []*datasource.Request
	table    string
	state    CursorState
	pending  *queryCommand

	haveData     bool
	lastRecordNo uint32
	lastStamp    time.Time

	columns []string
	cache   *recordCache
	meta    *datasource.TableMeta

	readyReported       bool
	satisfiedAfterFirst bool
	skipBatch           bool
	relativeStart       time.Time
	closed              bool
}

func newCursor(s *Source) *Cursor {
	c := &Cursor{
		source: s,
		logger: s.logger,
		cache:  &recordCache{},
	}
	s.validator().Register(c)
	return c
}

// State returns the cursor state.
func (c *Cursor) State() CursorState { return c.state }

// Requests returns the requests served by the cursor.
func (c *Cursor) Requests() []*datasource.Request {
	return append([]*datasource.Request(nil), c.requests...)
}

// Table returns the table the cursor reads.
func (c *Cursor) Table() string { return c.table }

func uriOf(r *datasource.Request) (URI, bool) {
	u, ok := r.Wart().(URI)
	return u, ok
}

// AddRequest adds r if the cursor has not started and r reads the same
// table with a compatible start condition.
func (c *Cursor) AddRequest(r *datasource.Request) bool {
	if c.state != CursorNotStarted {
		return false
	}
	u, ok := uriOf(r)
	if !ok {
		return false
	}
	if len(c.requests) > 0 {
		if !strings.EqualFold(u.Table, c.table) || !r.IsCompatible(c.requests[0]) {
			return false
		}
	} else {
		c.table = u.Table
	}
	c.requests = append(c.requests, r)
	return true
}

// RemoveRequest removes r and reports whether the cursor is now empty.
func (c *Cursor) RemoveRequest(r *datasource.Request) bool {
	for i, x := range c.requests {
		if x == r {
			c.requests = append(c.requests[:i], c.requests[i+1:]...)
			break
		}
	}
	return len(c.requests) == 0
}

func (c *Cursor) has(r *datasource.Request) bool {
	for _, x := range c.requests {
		if x == r {
			return true
		}
	}
	return false
}

// GenerateColumnNames returns the union of requested columns in first-seen
// order, or "*" when any request wants the whole table.
func (c *Cursor) GenerateColumnNames() string {
	cols := c.columnList()
	if cols == nil {
		return "*"
	}
	return strings.Join(cols, ", ")
}

func (c *Cursor) columnList() []string {
	var cols []string
	seen := make(map[string]bool)
	for _, r := range c.requests {
		u, _ := uriOf(r)
		if u.Column == "" {
			return nil
		}
		key := strings.ToLower(u.Column)
		if !seen[key] {
			seen[key] = true
			cols = append(cols, u.Column)
		}
	}
	return cols
}

// Start launches the query chosen by the first request's start option.
func (c *Cursor) Start() {
	if len(c.requests) == 0 || c.pending != nil {
		return
	}
	c.columns = c.columnList()
	c.satisfiedAfterFirst = false
	c.skipBatch = false
	c.relativeStart = time.Time{}

	first := c.requests[0]
	var q Query
	next := CursorPolling
	switch first.StartOption() {
	case datasource.StartAtRecord:
		q = Query{Kind: QueryPollNew, RecordNo: first.RecordNo()}
	case datasource.StartAtTime:
		q = Query{Kind: QueryFromTime, Begin: first.StartTime()}
	case datasource.StartRelativeToNewest:
		q = Query{Kind: QueryLast, Count: 1}
		next = CursorRelativeQuery
	case datasource.StartAtNewest:
		q = Query{Kind: QueryLast, Count: 1}
	case datasource.StartAfterNewest:
		q = Query{Kind: QueryLast, Count: 1}
		c.skipBatch = true
	case datasource.StartAtOffsetFromNewest:
		q = Query{Kind: QueryLast, Count: first.StartOffset()}
	case datasource.StartDateQuery:
		q = Query{Kind: QueryTimeRange, Begin: first.StartTime(), End: first.EndTime()}
		c.satisfiedAfterFirst = true
	default:
		c.state = CursorError
		c.logger.Debug("unsupported start option", slog.String("option", first.StartOption().String()))
		for _, r := range c.Requests() {
			c.source.postRequestFailure(r, datasource.SinkFailureInvalidStartOption)
		}
		return
	}
	c.state = next
	for _, r := range c.requests {
		r.SetExpectMoreData(true)
	}
	c.launch(q)
}

// Poll continues from the last record read. It does nothing unless the
// cursor is ready to poll with no query in flight. A cursor that has never
// received data starts over.
func (c *Cursor) Poll() {
	if c.state != CursorReadyToPoll || c.pending != nil {
		return
	}
	if !c.haveData {
		c.state = CursorNotStarted
		c.Start()
		return
	}
	c.state = CursorPolling
	for _, r := range c.requests {
		r.SetExpectMoreData(true)
	}
	c.launch(Query{Kind: QueryPollNew, Begin: c.lastStamp, RecordNo: c.lastRecordNo})
}

func (c *Cursor) launch(q Query) {
	q.Table = c.table
	q.Columns = c.columns
	if c.meta != nil && c.columns != nil {
		q.Columns = make([]string, 0, len(c.meta.Columns))
		for _, col := range c.meta.Columns {
			q.Columns = append(q.Columns, col.Name)
		}
	}
	q.Meta = c.meta
	cmd := newQueryCommand(c.source.backend, c, c.source.post, c.source.name, q, c.cache, c.source.batchSize)
	c.pending = cmd
	c.source.metrics.queries.WithLabelValues(q.Kind.String()).Inc()
	c.logger.Debug("launching query", slog.String("table", c.table), slog.String("kind", q.Kind.String()))
	if err := c.source.exec(cmd); err != nil {
		if errors.Is(err, worker.ErrQueueFull) {
			c.logger.Warn("query not queued, workers saturated", slog.String("table", c.table))
		}
		c.source.post(&completeEvent{Base: event.Base{Dest: c}, cmd: cmd, code: QueryErrorUnknown, err: err})
	}
}

// Receive implements event.Receiver.
func (c *Cursor) Receive(ev event.Event) {
	switch e := ev.(type) {
	case *headerEvent:
		c.onHeader(e)
	case *recordsEvent:
		c.onRecords(e)
	case *completeEvent:
		c.onComplete(e)
	}
}

func (c *Cursor) onHeader(e *headerEvent) {
	if e.cmd != c.pending || c.state == CursorRelativeQuery {
		return
	}
	c.meta = e.meta
	if c.readyReported {
		return
	}
	c.readyReported = true
	c.reportReady(nil)
}

// reportReady sets every request's value range from the cached header and
// reports it ready. Requests naming a missing column fail individually.
func (c *Cursor) reportReady(first *datasource.Record) {
	for _, r := range append([]*datasource.Request(nil), c.requests...) {
		if !c.has(r) {
			continue
		}
		u, _ := uriOf(r)
		if u.Column == "" {
			r.SetValueIndices(0, len(c.meta.Columns))
		} else {
			i := c.meta.ColumnIndex(u.Column)
			if i < 0 {
				if c.RemoveRequest(r) {
					c.source.removeCursor(c)
				}
				c.source.postRequestFailure(r, datasource.SinkFailureInvalidColumnName)
				continue
			}
			r.SetValueIndices(i, i+1)
		}
		c.source.mgr.ReportReady(r, first)
	}
}

func (c *Cursor) onRecords(e *recordsEvent) {
	if e.cmd != c.pending {
		c.cache.put(e.records)
		return
	}
	if c.state == CursorRelativeQuery {
		if n := len(e.records); n > 0 {
			c.relativeStart = e.records[n-1].Stamp.Add(c.requests[0].BackfillInterval())
		}
		c.cache.put(e.records)
		e.cmd.resume()
		return
	}

	e.cmd.resume()
	recs := e.records
	if n := len(recs); n > 0 {
		c.haveData = true
		c.lastStamp = recs[n-1].Stamp
		c.lastRecordNo = recs[n-1].RecordNo
	}
	if c.skipBatch {
		c.skipBatch = false
		recs = nil
	}
	if len(recs) > 0 {
		if !c.readyReported {
			c.readyReported = true
			if c.meta == nil {
				c.meta = recs[0].Meta
			}
			c.reportReady(recs[0])
			if c.closed {
				c.cache.put(e.records)
				return
			}
		}
		c.source.metrics.records.Add(float64(len(recs)))
		c.source.mgr.ReportRecords(c.Requests(), recs)
	}
	c.cache.put(e.records)
}

func (c *Cursor) onComplete(e *completeEvent) {
	if e.cmd != c.pending {
		return
	}
	c.pending = nil
	if e.code != QueryErrorNone {
		c.state = CursorError
		c.source.metrics.failures.WithLabelValues(e.code.String()).Inc()
		c.logger.Warn("query failed",
			slog.String("table", c.table),
			slog.String("code", e.code.String()),
			slog.Any("error", e.err))
		c.source.failCursor(c, e.code.sinkFailure())
		if e.code == QueryErrorNotConnected {
			c.source.post(&lostEvent{Base: event.Base{Dest: c.source}, backend: e.cmd.backend, err: e.err})
		}
		return
	}

	if c.state == CursorRelativeQuery {
		if !c.relativeStart.IsZero() {
			c.state = CursorPolling
			c.launch(Query{Kind: QueryFromTime, Begin: c.relativeStart})
			return
		}
		c.state = CursorReadyToPoll
		c.clearExpectMore()
		return
	}

	c.clearExpectMore()
	if c.satisfiedAfterFirst {
		c.state = CursorSatisfied
		for _, r := range c.Requests() {
			c.source.mgr.ReportSatisfied(r)
		}
		return
	}
	c.state = CursorReadyToPoll
}

func (c *Cursor) clearExpectMore() {
	for _, r := range c.requests {
		r.SetExpectMoreData(false)
	}
}

// close abandons any query in flight and drops undelivered events.
func (c *Cursor) close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.pending != nil {
		c.pending.abandon()
		c.pending = nil
	}
	c.source.validator().Unregister(c)
}
