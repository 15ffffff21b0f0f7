package dbsource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jtrauntvein/coratools/datasource"
	"github.com/jtrauntvein/coratools/event"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	errNoTable       = errors.New("no such table")
	errUnknownColumn = errors.New("unknown column")
)

type fakeRow struct {
	stamp  time.Time
	recNo  uint32
	values map[string]any
}

type fakeTable struct {
	columns []string
	rows    []fakeRow
}

// fakeDB is an in-memory database shared by every backend it creates.
type fakeDB struct {
	mu        sync.Mutex
	tables    map[string]*fakeTable
	openErr   error
	queryErrs []error
	queries   []Query
	opens     int
}

func newFakeDB() *fakeDB {
	return &fakeDB{tables: make(map[string]*fakeTable)}
}

func (db *fakeDB) backend() Backend {
	return &fakeConn{db: db}
}

// addRows appends n rows to table, numbering on from the last row. Row k
// is stamped k minutes after t0.
func (db *fakeDB) addRows(table string, n int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	tb, ok := db.tables[table]
	if !ok {
		tb = &fakeTable{columns: []string{"BattV", "PTemp"}}
		db.tables[table] = tb
	}
	for i := 0; i < n; i++ {
		k := uint32(len(tb.rows)) + 1
		tb.rows = append(tb.rows, fakeRow{
			stamp:  t0.Add(time.Duration(k) * time.Minute),
			recNo:  k,
			values: map[string]any{"BattV": 12 + float64(k)/10, "PTemp": float64(k)},
		})
	}
}

func (db *fakeDB) setOpenErr(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.openErr = err
}

func (db *fakeDB) failNextQuery(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.queryErrs = append(db.queryErrs, err)
}

func (db *fakeDB) recorded() []Query {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]Query(nil), db.queries...)
}

func (db *fakeDB) openCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.opens
}

type fakeConn struct {
	db   *fakeDB
	open bool
}

func (c *fakeConn) Open(context.Context, ConnectString) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.opens++
	if c.db.openErr != nil {
		return c.db.openErr
	}
	c.open = true
	return nil
}

func (c *fakeConn) Close() error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.open = false
	return nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if !c.open {
		return ErrNotConnected
	}
	return nil
}

func (c *fakeConn) ListDatabases(context.Context) ([]string, error) {
	return []string{"other", "site"}, nil
}

func (c *fakeConn) ListTables(context.Context) ([]string, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	var names []string
	for name := range c.db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *fakeConn) ListColumns(_ context.Context, table string) ([]datasource.Column, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	tb, ok := c.db.tables[table]
	if !ok {
		return nil, errNoTable
	}
	var cols []datasource.Column
	for _, name := range tb.columns {
		cols = append(cols, datasource.Column{Name: name, Type: "float"})
	}
	return cols, nil
}

func (c *fakeConn) Count(_ context.Context, table string) (int64, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	tb, ok := c.db.tables[table]
	if !ok {
		return 0, errNoTable
	}
	return int64(len(tb.rows)), nil
}

func (c *fakeConn) Query(_ context.Context, q Query) (Rows, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.queries = append(c.db.queries, q)
	if len(c.db.queryErrs) > 0 {
		err := c.db.queryErrs[0]
		c.db.queryErrs = c.db.queryErrs[1:]
		return nil, err
	}
	if !c.open {
		return nil, ErrNotConnected
	}
	tb, ok := c.db.tables[q.Table]
	if !ok {
		return nil, errNoTable
	}

	var rows []fakeRow
	switch q.Kind {
	case QueryLast:
		n := int(q.Count)
		if n > len(tb.rows) {
			n = len(tb.rows)
		}
		rows = tb.rows[len(tb.rows)-n:]
	default:
		for _, r := range tb.rows {
			if fakeMatch(q, r) {
				rows = append(rows, r)
			}
		}
	}

	names := tb.columns
	if q.Columns != nil {
		names = nil
		for _, want := range q.Columns {
			if strings.EqualFold(want, StampColumn) || strings.EqualFold(want, RecordNoColumn) {
				continue
			}
			found := false
			for _, have := range tb.columns {
				if strings.EqualFold(want, have) {
					names = append(names, have)
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("%w: %s", errUnknownColumn, want)
			}
		}
	}
	out := &sliceRows{pos: -1}
	for _, name := range names {
		out.columns = append(out.columns, datasource.Column{Name: name, Type: "float"})
	}
	for _, r := range rows {
		rec := datasource.Record{Stamp: r.stamp, RecordNo: r.recNo}
		for _, name := range names {
			rec.Values = append(rec.Values, r.values[name])
		}
		out.records = append(out.records, rec)
	}
	return out, nil
}

func fakeMatch(q Query, r fakeRow) bool {
	switch q.Kind {
	case QueryTimeRange:
		return !r.stamp.Before(q.Begin) && r.stamp.Before(q.End)
	case QueryPollNew:
		if q.Begin.IsZero() {
			return r.recNo >= q.RecordNo
		}
		return r.stamp.After(q.Begin) || (r.stamp.Equal(q.Begin) && r.recNo > q.RecordNo)
	default:
		return !r.stamp.Before(q.Begin)
	}
}

// testSink copies what it receives since records are recycled.
type testSink struct {
	ready     map[*datasource.Request]int
	failures  map[*datasource.Request]datasource.SinkFailure
	records   map[*datasource.Request][]uint32
	values    map[*datasource.Request][][]any
	satisfied map[*datasource.Request]bool
	batches   int
}

func newTestSink(t *testing.T) *testSink {
	t.Helper()
	s := &testSink{
		ready:     make(map[*datasource.Request]int),
		failures:  make(map[*datasource.Request]datasource.SinkFailure),
		records:   make(map[*datasource.Request][]uint32),
		values:    make(map[*datasource.Request][][]any),
		satisfied: make(map[*datasource.Request]bool),
	}
	event.Register(s)
	t.Cleanup(func() { event.Unregister(s) })
	return s
}

func (s *testSink) OnSinkReady(_ *datasource.Manager, r *datasource.Request, _ *datasource.Record) {
	s.ready[r]++
}

func (s *testSink) OnSinkFailure(_ *datasource.Manager, r *datasource.Request, f datasource.SinkFailure) {
	s.failures[r] = f
}

func (s *testSink) OnSinkRecords(_ *datasource.Manager, reqs []*datasource.Request, recs []*datasource.Record) {
	s.batches++
	for _, r := range reqs {
		begin, end := r.ValueIndices()
		for _, rec := range recs {
			s.records[r] = append(s.records[r], rec.RecordNo)
			s.values[r] = append(s.values[r], append([]any(nil), rec.Values[begin:end]...))
		}
	}
}

func (s *testSink) OnSinkSatisfied(_ *datasource.Manager, r *datasource.Request) {
	s.satisfied[r] = true
}

var testConnectString = ConnectString{Type: DBTypeMySQL, DataSource: "db.local", InitialCatalog: "site"}

// newLiveSource returns a source that runs commands on its worker pool
// against db.
func newLiveSource(t *testing.T, db *fakeDB, opts ...Option) (*event.Dispatcher, *datasource.Manager, *Source) {
	t.Helper()
	d := event.NewDispatcher()
	m := datasource.NewManager(d)
	opts = append([]Option{WithBackendFactory(db.backend), WithPollInterval(0)}, opts...)
	s := New("db", m, testConnectString, opts...)
	require.NoError(t, m.AddSource(s))
	t.Cleanup(func() {
		s.Close()
		m.Close()
	})
	return d, m, s
}

// newCapturedSource returns a connected source whose commands are recorded
// instead of run.
func newCapturedSource(t *testing.T) (*datasource.Manager, *Source, *[]command) {
	t.Helper()
	d := event.NewDispatcher()
	m := datasource.NewManager(d)
	db := newFakeDB()
	s := New("db", m, testConnectString, WithBackendFactory(db.backend), WithPollInterval(0))
	cmds := &[]command{}
	s.exec = func(c command) error {
		*cmds = append(*cmds, c)
		return nil
	}
	s.connected = true
	s.backend = db.backend()
	require.NoError(t, m.AddSource(s))
	t.Cleanup(func() {
		s.Close()
		m.Close()
	})
	return m, s, cmds
}

func lastQuery(t *testing.T, cmds []command) *queryCommand {
	t.Helper()
	for i := len(cmds) - 1; i >= 0; i-- {
		if q, ok := cmds[i].(*queryCommand); ok {
			return q
		}
	}
	require.Fail(t, "no query command")
	return nil
}

func pumpUntil(t *testing.T, d *event.Dispatcher, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		d.Pump()
		return cond()
	}, 2*time.Second, time.Millisecond)
}

func request(sink datasource.Sink, uri string, o datasource.StartOption) *datasource.Request {
	r := datasource.NewRequest(sink, uri)
	r.SetStartOption(o)
	return r
}
