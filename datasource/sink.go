package datasource

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// SinkFailure is the reason a request failed.
type SinkFailure int

// Sink failures. Unmapped values format as unknown.
const (
	SinkFailureUnknown SinkFailure = iota
	SinkFailureInvalidURI
	SinkFailureInvalidSource
	SinkFailureConnectionFailed
	SinkFailureInvalidTableName
	SinkFailureInvalidColumnName
	SinkFailureInvalidStartOption
)

var sinkFailureText = map[SinkFailure][2]string{
	SinkFailureUnknown:            {"Unknown", "an unrecognised failure"},
	SinkFailureInvalidURI:         {"InvalidURI", "the request URI is malformed"},
	SinkFailureInvalidSource:      {"InvalidSource", "no source has the name given in the URI"},
	SinkFailureConnectionFailed:   {"ConnectionFailed", "the source could not connect to its data"},
	SinkFailureInvalidTableName:   {"InvalidTableName", "the table does not exist or could not be queried"},
	SinkFailureInvalidColumnName:  {"InvalidColumnName", "the column does not exist in the table"},
	SinkFailureInvalidStartOption: {"InvalidStartOption", "the start option is not supported"},
}

// String returns the name of the failure.
func (f SinkFailure) String() string {
	if t, ok := sinkFailureText[f]; ok {
		return t[0]
	}
	return fmt.Sprintf("Unknown(%d)", int(f))
}

// FormatSinkFailure writes a description of f to w.
func FormatSinkFailure(w io.Writer, f SinkFailure) {
	desc := "an unrecognised failure"
	if t, ok := sinkFailureText[f]; ok {
		desc = t[1]
	}
	_, _ = io.WriteString(w, desc)
}

// Sink receives the results of requests. Every call is made on the
// dispatcher goroutine and only while the sink is registered with the
// validator.
type Sink interface {
	// OnSinkReady reports that the request's columns were found. first is
	// the first record, or nil when none has been read yet.
	OnSinkReady(m *Manager, r *Request, first *Record)
	OnSinkFailure(m *Manager, r *Request, f SinkFailure)
	// OnSinkRecords delivers a batch shared by every request in reqs. The
	// records are recycled once the call returns.
	OnSinkRecords(m *Manager, reqs []*Request, recs []*Record)
	OnSinkSatisfied(m *Manager, r *Request)
}

// Column describes one value column.
type Column struct {
	Name string
	Type string
}

// TableMeta describes the columns of a result set.
type TableMeta struct {
	Source  string
	Table   string
	Columns []Column
}

// ColumnIndex returns the index of the named column, compared without
// regard to case, or -1.
func (m *TableMeta) ColumnIndex(name string) int {
	for i, c := range m.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Record is one row of a table.
type Record struct {
	Meta     *TableMeta
	RecordNo uint32
	Stamp    time.Time
	Values   []any
}

// Reset clears the record for reuse.
func (r *Record) Reset() {
	r.Meta = nil
	r.RecordNo = 0
	r.Stamp = time.Time{}
	r.Values = r.Values[:0]
}
