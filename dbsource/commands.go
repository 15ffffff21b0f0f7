package dbsource

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/jtrauntvein/coratools/datasource"
	"github.com/jtrauntvein/coratools/event"
)

// QueryError is the completion code of a query command.
type QueryError int

// Query completion codes.
const (
	QueryErrorNone QueryError = iota
	QueryErrorNotConnected
	QueryErrorQueryFailed
	QueryErrorUnknown
)

// String returns the string representation of the code.
func (e QueryError) String() string {
	switch e {
	case QueryErrorNone:
		return "None"
	case QueryErrorNotConnected:
		return "NotConnected"
	case QueryErrorQueryFailed:
		return "QueryFailed"
	case QueryErrorUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Unknown(%d)", int(e))
	}
}

// sinkFailure maps a completion code onto the failure reported to sinks.
func (e QueryError) sinkFailure() datasource.SinkFailure {
	switch e {
	case QueryErrorNotConnected:
		return datasource.SinkFailureConnectionFailed
	case QueryErrorQueryFailed:
		return datasource.SinkFailureInvalidTableName
	default:
		return datasource.SinkFailureUnknown
	}
}

func queryErrorFor(err error) QueryError {
	switch {
	case err == nil:
		return QueryErrorNone
	case errors.Is(err, ErrNotConnected):
		return QueryErrorNotConnected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return QueryErrorUnknown
	default:
		return QueryErrorQueryFailed
	}
}

// command is work executed on a worker goroutine. It reports results only
// by posting events.
type command interface {
	execute(ctx context.Context) error
}

// recordCache recycles record buffers between a cursor and its commands.
type recordCache struct {
	mu   sync.Mutex
	free []*datasource.Record
}

func (c *recordCache) get() *datasource.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.free); n > 0 {
		rec := c.free[n-1]
		c.free = c.free[:n-1]
		return rec
	}
	return &datasource.Record{}
}

func (c *recordCache) put(recs []*datasource.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range recs {
		r.Reset()
		c.free = append(c.free, r)
	}
}

func (c *recordCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.free)
}

type headerEvent struct {
	event.Base
	cmd  *queryCommand
	meta *datasource.TableMeta
}

type recordsEvent struct {
	event.Base
	cmd     *queryCommand
	records []*datasource.Record
}

type completeEvent struct {
	event.Base
	cmd  *queryCommand
	code QueryError
	err  error
}

// queryCommand streams the result of one query to a cursor: a header, then
// batches of records, then a completion. After each batch it waits until
// the cursor calls resume.
type queryCommand struct {
	backend   Backend
	dest      event.Receiver
	post      func(event.Event)
	source    string
	query     Query
	cache     *recordCache
	batchSize int

	cont     chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newQueryCommand(b Backend, dest event.Receiver, post func(event.Event), source string, q Query, cache *recordCache, batchSize int) *queryCommand {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &queryCommand{
		backend:   b,
		dest:      dest,
		post:      post,
		source:    source,
		query:     q,
		cache:     cache,
		batchSize: batchSize,
		cont:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// resume lets the command read its next batch.
func (c *queryCommand) resume() {
	select {
	case c.cont <- struct{}{}:
	default:
	}
}

// abandon stops the command at its next batch boundary. Nothing more is
// posted.
func (c *queryCommand) abandon() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *queryCommand) abandoned() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *queryCommand) complete(err error) {
	c.post(&completeEvent{Base: event.Base{Dest: c.dest}, cmd: c, code: queryErrorFor(err), err: err})
}

func (c *queryCommand) execute(ctx context.Context) error {
	if c.abandoned() {
		return nil
	}
	q := c.query
	if q.Meta == nil && q.Columns != nil {
		cols, err := c.backend.ListColumns(ctx, q.Table)
		if err != nil {
			c.complete(err)
			return err
		}
		if len(cols) > 0 {
			q.Columns = knownColumns(q.Columns, cols)
		}
	}
	rows, err := c.backend.Query(ctx, q)
	if err != nil {
		c.complete(err)
		return err
	}
	defer rows.Close()

	meta := q.Meta
	if meta == nil {
		meta = &datasource.TableMeta{Source: c.source, Table: q.Table, Columns: rows.Columns()}
	}
	c.post(&headerEvent{Base: event.Base{Dest: c.dest}, cmd: c, meta: meta})

	for {
		batch := make([]*datasource.Record, 0, c.batchSize)
		for len(batch) < c.batchSize && rows.Next() {
			rec := c.cache.get()
			if err := rows.Scan(rec); err != nil {
				c.cache.put(append(batch, rec))
				c.complete(err)
				return err
			}
			rec.Meta = meta
			batch = append(batch, rec)
		}
		if len(batch) == 0 {
			break
		}
		c.post(&recordsEvent{Base: event.Base{Dest: c.dest}, cmd: c, records: batch})
		select {
		case <-c.cont:
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
		if len(batch) < c.batchSize {
			break
		}
	}
	if err := rows.Err(); err != nil {
		c.complete(err)
		return err
	}
	c.complete(nil)
	return nil
}

// knownColumns returns the requested value columns the table has, spelled
// as the table spells them. The result is never nil, so a request list
// naming no existing column still selects no value columns.
func knownColumns(requested []string, table []datasource.Column) []string {
	known := make([]string, 0, len(requested))
	for _, name := range requested {
		if strings.EqualFold(name, StampColumn) || strings.EqualFold(name, RecordNoColumn) {
			continue
		}
		for _, col := range table {
			if strings.EqualFold(name, col.Name) {
				known = append(known, col.Name)
				break
			}
		}
	}
	return known
}

// connectEvent reports the outcome of opening backend.
type connectEvent struct {
	event.Base
	backend Backend
	err     error
}

// lostEvent reports that a query found backend disconnected.
type lostEvent struct {
	event.Base
	backend Backend
	err     error
}

// connectCommand opens a backend for the source.
type connectCommand struct {
	backend Backend
	dest    event.Receiver
	post    func(event.Event)
	cs      ConnectString
}

func (c *connectCommand) execute(ctx context.Context) error {
	err := c.backend.Open(ctx, c.cs)
	c.post(&connectEvent{Base: event.Base{Dest: c.dest}, backend: c.backend, err: err})
	return err
}

// closeCommand closes a backend that is no longer used.
type closeCommand struct {
	backend Backend
}

func (c closeCommand) execute(context.Context) error {
	return c.backend.Close()
}

// adminCommand runs fn and hands its error to a blocked caller.
type adminCommand struct {
	fn   func() error
	done chan error
}

func newAdminCommand(fn func() error) *adminCommand {
	return &adminCommand{fn: fn, done: make(chan error, 1)}
}

func (c *adminCommand) execute(context.Context) error {
	err := c.fn()
	c.done <- err
	return err
}
