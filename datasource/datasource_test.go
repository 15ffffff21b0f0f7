package datasource

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtrauntvein/coratools/event"
)

type recordingSink struct {
	ready     []*Request
	first     []*Record
	failures  map[*Request]SinkFailure
	batches   [][]*Request
	satisfied []*Request
}

func newSink(t *testing.T) *recordingSink {
	t.Helper()
	s := &recordingSink{failures: make(map[*Request]SinkFailure)}
	event.Register(s)
	t.Cleanup(func() { event.Unregister(s) })
	return s
}

func (s *recordingSink) OnSinkReady(_ *Manager, r *Request, first *Record) {
	s.ready = append(s.ready, r)
	s.first = append(s.first, first)
}

func (s *recordingSink) OnSinkFailure(_ *Manager, r *Request, f SinkFailure) {
	s.failures[r] = f
}

func (s *recordingSink) OnSinkRecords(_ *Manager, reqs []*Request, _ []*Record) {
	s.batches = append(s.batches, reqs)
}

func (s *recordingSink) OnSinkSatisfied(_ *Manager, r *Request) {
	s.satisfied = append(s.satisfied, r)
}

type fakeSource struct {
	name      string
	connected bool
	requests  []*Request
	activated int
	polls     int
	removed   []*Request
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Connect() { s.connected = true }

func (s *fakeSource) Disconnect() { s.connected = false }

func (s *fakeSource) IsConnected() bool { return s.connected }

func (s *fakeSource) AddRequest(r *Request) { s.requests = append(s.requests, r) }

func (s *fakeSource) RemoveRequest(r *Request) { s.removed = append(s.removed, r) }

func (s *fakeSource) ActivateRequests() { s.activated++ }

func (s *fakeSource) Poll() { s.polls++ }

func TestStartOptionString(t *testing.T) {
	for o := StartNone; o <= StartDateQuery; o++ {
		assert.NotContains(t, o.String(), "Unknown", o)
	}
	assert.Equal(t, "Unknown(42)", StartOption(42).String())
	assert.Equal(t, "Satisfied", RequestSatisfied.String())
}

func TestSinkFailureFormatting(t *testing.T) {
	for f := SinkFailureUnknown; f <= SinkFailureInvalidStartOption+1; f++ {
		var b strings.Builder
		FormatSinkFailure(&b, f)
		assert.NotEmpty(t, b.String(), f.String())
		assert.NotEmpty(t, f.String())
	}
	assert.Equal(t, "ConnectionFailed", SinkFailureConnectionFailed.String())
	assert.Equal(t, "Unknown(99)", SinkFailure(99).String())
}

func TestIsCompatible(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	mk := func(o StartOption, set func(*Request)) *Request {
		r := NewRequest(nil, "db:table")
		r.SetStartOption(o)
		if set != nil {
			set(r)
		}
		return r
	}

	tests := []struct {
		name string
		a, b *Request
		want bool
	}{
		{"newest", mk(StartAtNewest, nil), mk(StartAtNewest, nil), true},
		{"different options", mk(StartAtNewest, nil), mk(StartAfterNewest, nil), false},
		{"same record", mk(StartAtRecord, func(r *Request) { r.SetRecordNo(7) }), mk(StartAtRecord, func(r *Request) { r.SetRecordNo(7) }), true},
		{"different record", mk(StartAtRecord, func(r *Request) { r.SetRecordNo(7) }), mk(StartAtRecord, func(r *Request) { r.SetRecordNo(8) }), false},
		{"same time", mk(StartAtTime, func(r *Request) { r.SetStartTime(t0) }), mk(StartAtTime, func(r *Request) { r.SetStartTime(t0.In(time.Local)) }), true},
		{"different backfill", mk(StartRelativeToNewest, func(r *Request) { r.SetBackfillInterval(-time.Hour) }), mk(StartRelativeToNewest, func(r *Request) { r.SetBackfillInterval(-time.Minute) }), false},
		{"same offset", mk(StartAtOffsetFromNewest, func(r *Request) { r.SetStartOffset(10) }), mk(StartAtOffsetFromNewest, func(r *Request) { r.SetStartOffset(10) }), true},
		{"different range end", mk(StartDateQuery, func(r *Request) { r.SetStartTime(t0); r.SetEndTime(t1) }), mk(StartDateQuery, func(r *Request) { r.SetStartTime(t0) }), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.IsCompatible(tt.b))
			assert.Equal(t, tt.want, tt.b.IsCompatible(tt.a))
		})
	}
	assert.False(t, mk(StartAtNewest, nil).IsCompatible(nil))
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "db", SourceName("db:table.column"))
	assert.Equal(t, "a:b", SourceName(`a\:b:table`))
	assert.Equal(t, "plain", SourceName("plain"))
	assert.Equal(t, "", SourceName(":table"))
}

func TestManagerRoutesRequests(t *testing.T) {
	d := event.NewDispatcher()
	m := NewManager(d)
	defer m.Close()

	src := &fakeSource{name: "db"}
	require.NoError(t, m.AddSource(src))
	assert.Error(t, m.AddSource(&fakeSource{name: "db"}))
	assert.Equal(t, []string{"db"}, m.Sources())
	assert.Same(t, src, m.Source("db"))

	sink := newSink(t)
	r := NewRequest(sink, "db:table")
	m.AddRequest(r)
	assert.Equal(t, []*Request{r}, src.requests)
	assert.Zero(t, src.activated)

	m.Start()
	assert.True(t, src.connected)
	assert.Equal(t, 1, src.activated)

	m.AddRequest(NewRequest(sink, "db:other"))
	assert.Equal(t, 2, src.activated)

	m.Poll()
	assert.Equal(t, 1, src.polls)

	m.RemoveRequest(r)
	m.RemoveRequest(r)
	assert.Equal(t, []*Request{r}, src.removed)

	m.Stop()
	assert.False(t, src.connected)
	m.Poll()
	assert.Equal(t, 1, src.polls)
}

func TestManagerUnknownSourceFailsLater(t *testing.T) {
	d := event.NewDispatcher()
	m := NewManager(d)
	defer m.Close()

	sink := newSink(t)
	r := NewRequest(sink, "missing:table")
	m.AddRequest(r)
	assert.Empty(t, sink.failures)

	d.Pump()
	assert.Equal(t, SinkFailureInvalidSource, sink.failures[r])
	assert.Equal(t, RequestError, r.State())
	assert.Equal(t, SinkFailureInvalidSource, r.Failure())
}

func TestManagerReportsGateOnSink(t *testing.T) {
	d := event.NewDispatcher()
	m := NewManager(d)
	defer m.Close()

	sink := newSink(t)
	other := newSink(t)
	a := NewRequest(sink, "db:t")
	b := NewRequest(other, "db:t")
	c := NewRequest(sink, "db:t.x")

	recs := []*Record{{RecordNo: 1}}
	m.ReportRecords([]*Request{a, b, c}, recs)
	require.Len(t, sink.batches, 1)
	assert.Equal(t, []*Request{a, c}, sink.batches[0])
	assert.Equal(t, [][]*Request{{b}}, other.batches)

	m.ReportRecords([]*Request{a}, nil)
	assert.Len(t, sink.batches, 1)

	m.ReportReady(a, recs[0])
	assert.Equal(t, RequestReady, a.State())
	assert.Same(t, recs[0], sink.first[0])

	a.SetExpectMoreData(true)
	m.ReportSatisfied(a)
	assert.Equal(t, RequestSatisfied, a.State())
	assert.False(t, a.ExpectMoreData())

	event.Unregister(other)
	m.ReportFailure(b, SinkFailureInvalidTableName)
	assert.Empty(t, other.failures)
	assert.Equal(t, RequestError, b.State())
}

func TestManagerCloseDropsEvents(t *testing.T) {
	d := event.NewDispatcher()
	m := NewManager(d)
	sink := newSink(t)
	m.AddRequest(NewRequest(sink, "missing:t"))
	m.Close()
	m.Close()
	d.Pump()
	assert.Empty(t, sink.failures)
}

func TestTableMetaColumnIndex(t *testing.T) {
	m := &TableMeta{Columns: []Column{{Name: "BattV"}, {Name: "PTemp"}}}
	assert.Equal(t, 1, m.ColumnIndex("ptemp"))
	assert.Equal(t, -1, m.ColumnIndex("missing"))

	r := &Record{Meta: m, RecordNo: 4, Stamp: time.Now(), Values: []any{1, 2}}
	r.Reset()
	assert.Nil(t, r.Meta)
	assert.Empty(t, r.Values)
	assert.Equal(t, 2, cap(r.Values))
}
