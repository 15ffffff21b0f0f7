package dbsource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtrauntvein/coratools/datasource"
	"github.com/jtrauntvein/coratools/event"
	"github.com/jtrauntvein/coratools/worker"
)

var battMeta = &datasource.TableMeta{Source: "db", Table: "Table1", Columns: []datasource.Column{{Name: "BattV"}, {Name: "PTemp"}}}

func withWart(t *testing.T, r *datasource.Request) *datasource.Request {
	t.Helper()
	u, err := ParseURI(r.URI())
	require.NoError(t, err)
	r.SetWart(u)
	return r
}

func header(c *Cursor, cmd *queryCommand, meta *datasource.TableMeta) {
	c.Receive(&headerEvent{Base: event.Base{Dest: c}, cmd: cmd, meta: meta})
}

func records(c *Cursor, cmd *queryCommand, recs ...*datasource.Record) {
	c.Receive(&recordsEvent{Base: event.Base{Dest: c}, cmd: cmd, records: recs})
}

func complete(c *Cursor, cmd *queryCommand, code QueryError) {
	c.Receive(&completeEvent{Base: event.Base{Dest: c}, cmd: cmd, code: code})
}

func rec(no uint32, stamp time.Time, values ...any) *datasource.Record {
	return &datasource.Record{Meta: battMeta, RecordNo: no, Stamp: stamp, Values: values}
}

func TestCursorStateString(t *testing.T) {
	for s := CursorNotStarted; s <= CursorError; s++ {
		assert.NotContains(t, s.String(), "Unknown")
	}
	assert.Equal(t, "Unknown(9)", CursorState(9).String())
	assert.Equal(t, "PollNew", QueryPollNew.String())
	assert.Equal(t, "NotConnected", QueryErrorNotConnected.String())
}

func TestGenerateColumnNames(t *testing.T) {
	_, s, _ := newCapturedSource(t)

	tests := []struct {
		name string
		uris []string
		want string
	}{
		{"wildcard wins", []string{"db:t.A", "db:t.B", "db:t"}, "*"},
		{"duplicates collapse", []string{"db:t.A", "db:t.B", "db:t.A"}, "A, B"},
		{"single", []string{"db:t.A"}, "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCursor(s)
			defer c.close()
			for _, uri := range tt.uris {
				require.True(t, c.AddRequest(withWart(t, request(nil, uri, datasource.StartAtNewest))))
			}
			assert.Equal(t, tt.want, c.GenerateColumnNames())
		})
	}
}

func TestCursorAddRequestCompatibility(t *testing.T) {
	_, s, _ := newCapturedSource(t)
	c := newCursor(s)
	defer c.close()

	first := withWart(t, request(nil, "db:Table1.BattV", datasource.StartAtNewest))
	assert.True(t, c.AddRequest(first))
	assert.Equal(t, "Table1", c.Table())

	assert.False(t, c.AddRequest(withWart(t, request(nil, "db:Table1.PTemp", datasource.StartAfterNewest))))
	assert.False(t, c.AddRequest(withWart(t, request(nil, "db:Table2.BattV", datasource.StartAtNewest))))
	assert.False(t, c.AddRequest(request(nil, "db:Table1", datasource.StartAtNewest)))
	assert.True(t, c.AddRequest(withWart(t, request(nil, "db:table1.PTemp", datasource.StartAtNewest))))

	c.Start()
	assert.Equal(t, CursorPolling, c.State())
	assert.False(t, c.AddRequest(withWart(t, request(nil, "db:Table1", datasource.StartAtNewest))))

	assert.False(t, c.RemoveRequest(first))
	assert.True(t, c.RemoveRequest(c.Requests()[0]))
}

func TestCursorStartQueries(t *testing.T) {
	begin := t0.Add(time.Hour)
	end := begin.Add(time.Hour)

	tests := []struct {
		name  string
		setup func(*datasource.Request)
		want  Query
		state CursorState
	}{
		{"at record", func(r *datasource.Request) {
			r.SetStartOption(datasource.StartAtRecord)
			r.SetRecordNo(42)
		}, Query{Kind: QueryPollNew, RecordNo: 42}, CursorPolling},
		{"at time", func(r *datasource.Request) {
			r.SetStartOption(datasource.StartAtTime)
			r.SetStartTime(begin)
		}, Query{Kind: QueryFromTime, Begin: begin}, CursorPolling},
		{"relative", func(r *datasource.Request) {
			r.SetStartOption(datasource.StartRelativeToNewest)
		}, Query{Kind: QueryLast, Count: 1}, CursorRelativeQuery},
		{"newest", func(r *datasource.Request) {
			r.SetStartOption(datasource.StartAtNewest)
		}, Query{Kind: QueryLast, Count: 1}, CursorPolling},
		{"after newest", func(r *datasource.Request) {
			r.SetStartOption(datasource.StartAfterNewest)
		}, Query{Kind: QueryLast, Count: 1}, CursorPolling},
		{"offset", func(r *datasource.Request) {
			r.SetStartOption(datasource.StartAtOffsetFromNewest)
			r.SetStartOffset(10)
		}, Query{Kind: QueryLast, Count: 10}, CursorPolling},
		{"date query", func(r *datasource.Request) {
			r.SetStartOption(datasource.StartDateQuery)
			r.SetStartTime(begin)
			r.SetEndTime(end)
		}, Query{Kind: QueryTimeRange, Begin: begin, End: end}, CursorPolling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, s, cmds := newCapturedSource(t)
			r := datasource.NewRequest(newTestSink(t), "db:Table1.BattV")
			tt.setup(r)
			m.AddRequest(r)
			s.ActivateRequests()

			require.Len(t, s.Cursors(), 1)
			c := s.Cursors()[0]
			assert.Equal(t, tt.state, c.State())
			q := lastQuery(t, *cmds).query
			want := tt.want
			want.Table = "Table1"
			want.Columns = []string{"BattV"}
			assert.Equal(t, want, q)
			assert.True(t, r.ExpectMoreData())
		})
	}
}

func TestRelativeBootstrap(t *testing.T) {
	m, s, cmds := newCapturedSource(t)
	sink := newTestSink(t)
	backfill := -30 * time.Minute
	r := request(sink, "db:Table1.BattV", datasource.StartRelativeToNewest)
	r.SetBackfillInterval(backfill)
	m.AddRequest(r)
	s.ActivateRequests()

	c := s.Cursors()[0]
	bootstrap := lastQuery(t, *cmds)
	newest := t0.Add(90 * time.Minute)

	header(c, bootstrap, battMeta)
	records(c, bootstrap, rec(90, newest, 12.5, 20.0))
	assert.Empty(t, sink.ready)
	assert.Empty(t, sink.records)
	assert.Equal(t, CursorRelativeQuery, c.State())

	complete(c, bootstrap, QueryErrorNone)
	fromTime := lastQuery(t, *cmds)
	require.NotSame(t, bootstrap, fromTime)
	assert.Equal(t, QueryFromTime, fromTime.query.Kind)
	assert.True(t, fromTime.query.Begin.Equal(newest.Add(backfill)))
	assert.Equal(t, CursorPolling, c.State())

	header(c, fromTime, battMeta)
	assert.Equal(t, 1, sink.ready[r])
	begin, end := r.ValueIndices()
	assert.Equal(t, []int{0, 1}, []int{begin, end})

	records(c, fromTime, rec(60, t0.Add(60*time.Minute), 12.1, 19.0), rec(61, t0.Add(61*time.Minute), 12.2, 19.5))
	assert.Equal(t, []uint32{60, 61}, sink.records[r])
	assert.Equal(t, [][]any{{12.1}, {12.2}}, sink.values[r])

	complete(c, fromTime, QueryErrorNone)
	assert.Equal(t, CursorReadyToPoll, c.State())
	assert.False(t, r.ExpectMoreData())
}

func TestRelativeBootstrapEmptyTableRestarts(t *testing.T) {
	m, s, cmds := newCapturedSource(t)
	r := request(newTestSink(t), "db:Table1", datasource.StartRelativeToNewest)
	m.AddRequest(r)
	s.ActivateRequests()

	c := s.Cursors()[0]
	bootstrap := lastQuery(t, *cmds)
	complete(c, bootstrap, QueryErrorNone)
	assert.Equal(t, CursorReadyToPoll, c.State())

	c.Poll()
	again := lastQuery(t, *cmds)
	require.NotSame(t, bootstrap, again)
	assert.Equal(t, QueryLast, again.query.Kind)
	assert.Equal(t, CursorRelativeQuery, c.State())
}

func TestDateQuerySatisfied(t *testing.T) {
	m, s, cmds := newCapturedSource(t)
	sink := newTestSink(t)
	r := request(sink, "db:Table1", datasource.StartDateQuery)
	r.SetStartTime(t0)
	r.SetEndTime(t0.Add(time.Hour))
	m.AddRequest(r)
	s.ActivateRequests()

	c := s.Cursors()[0]
	cmd := lastQuery(t, *cmds)
	header(c, cmd, battMeta)
	records(c, cmd, rec(1, t0.Add(time.Minute), 12.0, 20.0))
	complete(c, cmd, QueryErrorNone)

	assert.Equal(t, CursorSatisfied, c.State())
	assert.True(t, sink.satisfied[r])
	assert.Equal(t, datasource.RequestSatisfied, r.State())
	assert.False(t, r.ExpectMoreData())

	n := len(*cmds)
	c.Poll()
	s.Poll()
	assert.Len(t, *cmds, n)
}

func TestPollContinuesFromLastRecord(t *testing.T) {
	m, s, cmds := newCapturedSource(t)
	sink := newTestSink(t)
	r := request(sink, "db:Table1", datasource.StartAtNewest)
	m.AddRequest(r)
	s.ActivateRequests()

	c := s.Cursors()[0]
	first := lastQuery(t, *cmds)
	header(c, first, battMeta)
	stamp := t0.Add(5 * time.Minute)
	records(c, first, rec(5, stamp, 12.0, 20.0))

	c.Poll()
	assert.Same(t, first, lastQuery(t, *cmds), "no poll while a query is pending")

	complete(c, first, QueryErrorNone)
	c.Poll()
	next := lastQuery(t, *cmds)
	require.NotSame(t, first, next)
	assert.Equal(t, QueryPollNew, next.query.Kind)
	assert.True(t, next.query.Begin.Equal(stamp))
	assert.Equal(t, uint32(5), next.query.RecordNo)
	assert.Same(t, battMeta, next.query.Meta)

	header(c, next, battMeta)
	assert.Equal(t, 1, sink.ready[r])
}

func TestAfterNewestSkipsNewest(t *testing.T) {
	m, s, cmds := newCapturedSource(t)
	sink := newTestSink(t)
	r := request(sink, "db:Table1", datasource.StartAfterNewest)
	m.AddRequest(r)
	s.ActivateRequests()

	c := s.Cursors()[0]
	cmd := lastQuery(t, *cmds)
	header(c, cmd, battMeta)
	records(c, cmd, rec(9, t0.Add(9*time.Minute), 12.0, 20.0))
	complete(c, cmd, QueryErrorNone)
	assert.Empty(t, sink.records)

	c.Poll()
	assert.Equal(t, uint32(9), lastQuery(t, *cmds).query.RecordNo)
}

func TestStaleEventsIgnored(t *testing.T) {
	m, s, cmds := newCapturedSource(t)
	sink := newTestSink(t)
	r := request(sink, "db:Table1", datasource.StartAtNewest)
	m.AddRequest(r)
	s.ActivateRequests()

	c := s.Cursors()[0]
	current := lastQuery(t, *cmds)
	stale := newQueryCommand(nil, c, s.post, "db", Query{}, c.cache, 1)
	header(c, stale, battMeta)
	records(c, stale, rec(1, t0, 1.0, 2.0))
	complete(c, stale, QueryErrorNone)

	assert.Empty(t, sink.ready)
	assert.Empty(t, sink.records)
	assert.Equal(t, CursorPolling, c.State())
	assert.Same(t, current, c.pending)
	assert.Equal(t, 1, c.cache.len())
}

func TestMissingColumnFailsOneRequest(t *testing.T) {
	m, s, cmds := newCapturedSource(t)
	sink := newTestSink(t)
	good := request(sink, "db:Table1.PTemp", datasource.StartAtNewest)
	bad := request(sink, "db:Table1.Missing", datasource.StartAtNewest)
	m.AddRequest(good)
	m.AddRequest(bad)
	s.ActivateRequests()

	require.Len(t, s.Cursors(), 1)
	c := s.Cursors()[0]
	assert.Equal(t, "PTemp, Missing", c.GenerateColumnNames())
	cmd := lastQuery(t, *cmds)
	header(c, cmd, battMeta)

	assert.Equal(t, 1, sink.ready[good])
	assert.Equal(t, []*datasource.Request{good}, c.Requests())
	begin, end := good.ValueIndices()
	assert.Equal(t, []int{1, 2}, []int{begin, end})

	m.Dispatcher().Pump()
	assert.Equal(t, datasource.SinkFailureInvalidColumnName, sink.failures[bad])
	assert.NotContains(t, sink.failures, good)
	assert.False(t, s.hasRequest(bad))
}

func TestMissingColumnOnlyRequestDestroysCursor(t *testing.T) {
	m, s, cmds := newCapturedSource(t)
	sink := newTestSink(t)
	bad := request(sink, "db:Table1.Missing", datasource.StartAtNewest)
	m.AddRequest(bad)
	s.ActivateRequests()

	c := s.Cursors()[0]
	cmd := lastQuery(t, *cmds)
	header(c, cmd, battMeta)
	assert.Empty(t, s.Cursors())
	assert.True(t, cmd.abandoned())
	assert.False(t, event.IsValid(c))

	records(c, cmd, rec(1, t0, 1.0, 2.0))
	assert.Empty(t, sink.records)
	assert.Equal(t, 1, c.cache.len())

	m.Dispatcher().Pump()
	assert.Equal(t, datasource.SinkFailureInvalidColumnName, sink.failures[bad])
	assert.False(t, s.hasRequest(bad))

	s.Poll()
	assert.Len(t, *cmds, 1)
}

func TestInvalidStartOptionFailsRequests(t *testing.T) {
	m, s, cmds := newCapturedSource(t)
	sink := newTestSink(t)
	r := request(sink, "db:Table1", datasource.StartNone)
	m.AddRequest(r)
	s.ActivateRequests()

	assert.Empty(t, *cmds)
	assert.Empty(t, sink.failures)
	m.Dispatcher().Pump()
	assert.Equal(t, datasource.SinkFailureInvalidStartOption, sink.failures[r])
	assert.Empty(t, s.Cursors())
}

func TestQueryErrorMapping(t *testing.T) {
	tests := []struct {
		code QueryError
		want datasource.SinkFailure
	}{
		{QueryErrorQueryFailed, datasource.SinkFailureInvalidTableName},
		{QueryErrorUnknown, datasource.SinkFailureUnknown},
		{QueryErrorNotConnected, datasource.SinkFailureConnectionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			m, s, cmds := newCapturedSource(t)
			sink := newTestSink(t)
			a := request(sink, "db:Table1.BattV", datasource.StartAtNewest)
			b := request(sink, "db:Table1.PTemp", datasource.StartAtNewest)
			m.AddRequest(a)
			m.AddRequest(b)
			s.ActivateRequests()

			c := s.Cursors()[0]
			complete(c, lastQuery(t, *cmds), tt.code)
			assert.Equal(t, tt.want, sink.failures[a])
			assert.Equal(t, tt.want, sink.failures[b])
			assert.Equal(t, CursorError, c.State())
			assert.Empty(t, s.Cursors())
			assert.True(t, s.hasRequest(a))
		})
	}
}

func TestRemovingLastRequestDestroysCursor(t *testing.T) {
	m, s, cmds := newCapturedSource(t)
	sink := newTestSink(t)
	a := request(sink, "db:Table1.BattV", datasource.StartAtNewest)
	b := request(sink, "db:Table1.PTemp", datasource.StartAtNewest)
	m.AddRequest(a)
	m.AddRequest(b)
	s.ActivateRequests()

	c := s.Cursors()[0]
	cmd := lastQuery(t, *cmds)
	m.RemoveRequest(a)
	assert.Len(t, s.Cursors(), 1)
	m.RemoveRequest(b)
	assert.Empty(t, s.Cursors())
	assert.True(t, cmd.abandoned())
	assert.False(t, event.IsValid(c))
}

func TestQueryNotQueuedFailsRequests(t *testing.T) {
	m, s, _ := newCapturedSource(t)
	s.exec = func(command) error { return worker.ErrQueueFull }
	sink := newTestSink(t)
	r := request(sink, "db:Table1", datasource.StartAtNewest)
	m.AddRequest(r)
	s.ActivateRequests()

	m.Dispatcher().Pump()
	assert.Equal(t, datasource.SinkFailureUnknown, sink.failures[r])
	assert.Empty(t, s.Cursors())
	assert.True(t, s.hasRequest(r))
}
