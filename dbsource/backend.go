package dbsource

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/jtrauntvein/coratools/datasource"
)

// ErrNotConnected is returned by backend calls made before Open succeeds or
// after Close.
var ErrNotConnected = errors.New("database not connected")

// Names of the columns every data table carries.
const (
	StampColumn    = "TmStamp"
	RecordNoColumn = "RecNum"
)

// QueryKind selects the shape of a data query.
type QueryKind int

const (
	// QueryFromTime reads every record at or after Begin.
	QueryFromTime QueryKind = iota
	// QueryLast reads the newest Count records, oldest first.
	QueryLast
	// QueryTimeRange reads records in [Begin, End).
	QueryTimeRange
	// QueryPollNew reads records after the (Begin, RecordNo) position. A
	// zero Begin reads records numbered RecordNo and up.
	QueryPollNew
)

// String returns the string representation of the query kind.
func (k QueryKind) String() string {
	switch k {
	case QueryFromTime:
		return "FromTime"
	case QueryLast:
		return "Last"
	case QueryTimeRange:
		return "TimeRange"
	case QueryPollNew:
		return "PollNew"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Query describes one data query.
type Query struct {
	Kind  QueryKind
	Table string
	// Columns lists the value columns; nil selects all of them.
	Columns  []string
	Begin    time.Time
	End      time.Time
	RecordNo uint32
	Count    uint32
	// Meta is the header cached from an earlier query on the same cursor.
	Meta *datasource.TableMeta
}

// Rows is a forward-only result set.
type Rows interface {
	// Columns describes the value columns, excluding the time stamp and
	// record number.
	Columns() []datasource.Column
	Next() bool
	// Scan fills rec from the current row.
	Scan(rec *datasource.Record) error
	Err() error
	Close() error
}

// Backend performs blocking database calls. Implementations must be safe
// for use by several worker goroutines at once.
type Backend interface {
	Open(ctx context.Context, cs ConnectString) error
	Close() error
	Ping(ctx context.Context) error
	ListDatabases(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context) ([]string, error)
	ListColumns(ctx context.Context, table string) ([]datasource.Column, error)
	Query(ctx context.Context, q Query) (Rows, error)
	Count(ctx context.Context, table string) (int64, error)
}

// BackendFactory creates an unopened backend.
type BackendFactory func() Backend
