package dbsource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/jtrauntvein/coratools/datasource"
)

// dialect holds the SQL differences between the supported products.
type dialect struct {
	quoteOpen, quoteClose string
	placeholder           func(n int) string
	top                   bool
	listDatabases         string
	tableFilter           string
}

var dialects = map[DBType]dialect{
	DBTypeMySQL: {
		quoteOpen:     "`",
		quoteClose:    "`",
		placeholder:   func(int) string { return "?" },
		listDatabases: "SHOW DATABASES",
		tableFilter:   " AND table_schema = DATABASE()",
	},
	DBTypePostgreSQL: {
		quoteOpen:     `"`,
		quoteClose:    `"`,
		placeholder:   func(n int) string { return "$" + strconv.Itoa(n) },
		listDatabases: "SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname",
		tableFilter:   " AND table_schema = current_schema()",
	},
	DBTypeSQLServer: {
		quoteOpen:     "[",
		quoteClose:    "]",
		placeholder:   func(n int) string { return "@p" + strconv.Itoa(n) },
		top:           true,
		listDatabases: "SELECT name FROM sys.databases ORDER BY name",
	},
}

func (d dialect) quote(name string) string {
	return d.quoteOpen + strings.ReplaceAll(name, d.quoteClose, d.quoteClose+d.quoteClose) + d.quoteClose
}

// selectList returns the projection for q. The time stamp and record number
// always lead. Nil columns select the whole row.
func (d dialect) selectList(columns []string) string {
	if columns == nil {
		return "*"
	}
	parts := []string{d.quote(StampColumn), d.quote(RecordNoColumn)}
	for _, c := range columns {
		if strings.EqualFold(c, StampColumn) || strings.EqualFold(c, RecordNoColumn) {
			continue
		}
		parts = append(parts, d.quote(c))
	}
	return strings.Join(parts, ", ")
}

// build returns the statement and arguments for q.
func (d dialect) build(q Query) (string, []any) {
	stamp, recNo := d.quote(StampColumn), d.quote(RecordNoColumn)
	asc := " ORDER BY " + stamp + ", " + recNo
	from := " FROM " + d.quote(q.Table)
	cols := d.selectList(q.Columns)

	switch q.Kind {
	case QueryLast:
		desc := " ORDER BY " + stamp + " DESC, " + recNo + " DESC"
		if d.top {
			return "SELECT TOP " + strconv.FormatUint(uint64(q.Count), 10) + " " + cols + from + desc, nil
		}
		return "SELECT " + cols + from + desc + " LIMIT " + strconv.FormatUint(uint64(q.Count), 10), nil
	case QueryTimeRange:
		where := " WHERE " + stamp + " >= " + d.placeholder(1) + " AND " + stamp + " < " + d.placeholder(2)
		return "SELECT " + cols + from + where + asc, []any{q.Begin, q.End}
	case QueryPollNew:
		if q.Begin.IsZero() {
			return "SELECT " + cols + from + " WHERE " + recNo + " >= " + d.placeholder(1) + asc, []any{int64(q.RecordNo)}
		}
		where := " WHERE " + stamp + " > " + d.placeholder(1) +
			" OR (" + stamp + " = " + d.placeholder(2) + " AND " + recNo + " > " + d.placeholder(3) + ")"
		return "SELECT " + cols + from + where + asc, []any{q.Begin, q.Begin, int64(q.RecordNo)}
	default:
		return "SELECT " + cols + from + " WHERE " + stamp + " >= " + d.placeholder(1) + asc, []any{q.Begin}
	}
}

// SQLBackend is a Backend over database/sql.
type SQLBackend struct {
	mu      sync.RWMutex
	db      *sql.DB
	dialect dialect
}

// NewSQLBackend creates an unopened SQL backend.
func NewSQLBackend() Backend {
	return &SQLBackend{}
}

// Open connects using cs and verifies the connection.
func (b *SQLBackend) Open(ctx context.Context, cs ConnectString) error {
	d, ok := dialects[cs.Type]
	if !ok {
		return errors.Wrapf(ErrInvalidConnectString, "unsupported type %v", cs.Type)
	}
	db, err := sql.Open(cs.Driver(), cs.DSN())
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrap(err, "connecting to database")
	}

	b.mu.Lock()
	old := b.db
	b.db = db
	b.dialect = d
	b.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Close releases the connection pool.
func (b *SQLBackend) Close() error {
	b.mu.Lock()
	db := b.db
	b.db = nil
	b.mu.Unlock()
	if db == nil {
		return nil
	}
	return errors.Wrap(db.Close(), "closing database")
}

func (b *SQLBackend) conn() (*sql.DB, dialect, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, dialect{}, ErrNotConnected
	}
	return b.db, b.dialect, nil
}

// Ping checks the connection.
func (b *SQLBackend) Ping(ctx context.Context) error {
	db, _, err := b.conn()
	if err != nil {
		return err
	}
	return classify(db.PingContext(ctx), "ping")
}

// ListDatabases returns the database names visible to the user.
func (b *SQLBackend) ListDatabases(ctx context.Context) ([]string, error) {
	db, d, err := b.conn()
	if err != nil {
		return nil, err
	}
	return queryStrings(ctx, db, d.listDatabases)
}

// ListTables returns the base tables of the current database.
func (b *SQLBackend) ListTables(ctx context.Context) ([]string, error) {
	db, d, err := b.conn()
	if err != nil {
		return nil, err
	}
	return queryStrings(ctx, db,
		"SELECT table_name FROM information_schema.tables WHERE table_type = 'BASE TABLE'"+d.tableFilter+" ORDER BY table_name")
}

// ListColumns returns the columns of table in ordinal order.
func (b *SQLBackend) ListColumns(ctx context.Context, table string) ([]datasource.Column, error) {
	db, d, err := b.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_name = "+d.placeholder(1)+
			d.tableFilter+" ORDER BY ordinal_position", table)
	if err != nil {
		return nil, classify(err, "listing columns")
	}
	defer rows.Close()

	var cols []datasource.Column
	for rows.Next() {
		var c datasource.Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, errors.Wrap(err, "scanning column")
		}
		cols = append(cols, c)
	}
	return cols, classify(rows.Err(), "listing columns")
}

// Count returns the number of rows in table.
func (b *SQLBackend) Count(ctx context.Context, table string) (int64, error) {
	db, d, err := b.conn()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+d.quote(table)).Scan(&n); err != nil {
		return 0, classify(err, "counting records")
	}
	return n, nil
}

// Query runs q. Results of QueryLast are buffered so they can be returned
// oldest first.
func (b *SQLBackend) Query(ctx context.Context, q Query) (Rows, error) {
	db, d, err := b.conn()
	if err != nil {
		return nil, err
	}
	stmt, args := d.build(q)
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify(err, "executing query")
	}
	sr, err := newSQLRows(rows)
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	if q.Kind != QueryLast {
		return sr, nil
	}
	defer sr.Close()
	return bufferReversed(sr)
}

func queryStrings(ctx context.Context, db *sql.DB, stmt string) ([]string, error) {
	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, classify(err, "listing")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errors.Wrap(err, "scanning name")
		}
		out = append(out, s)
	}
	return out, classify(rows.Err(), "listing")
}

// classify wraps err, marking lost connections with ErrNotConnected.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return errors.Wrap(ErrNotConnected, msg+": "+err.Error())
	}
	return errors.Wrap(err, msg)
}

type sqlRows struct {
	rows     *sql.Rows
	columns  []datasource.Column
	stampIdx int
	recIdx   int
	valueIdx []int
	scratch  []any
}

func newSQLRows(rows *sql.Rows) (*sqlRows, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, "reading column types")
	}
	r := &sqlRows{rows: rows, stampIdx: -1, recIdx: -1, scratch: make([]any, len(types))}
	for i, t := range types {
		r.scratch[i] = new(any)
		switch {
		case strings.EqualFold(t.Name(), StampColumn):
			r.stampIdx = i
		case strings.EqualFold(t.Name(), RecordNoColumn):
			r.recIdx = i
		default:
			r.valueIdx = append(r.valueIdx, i)
			r.columns = append(r.columns, datasource.Column{Name: t.Name(), Type: t.DatabaseTypeName()})
		}
	}
	if r.stampIdx < 0 || r.recIdx < 0 {
		return nil, errors.Errorf("table lacks %s or %s column", StampColumn, RecordNoColumn)
	}
	return r, nil
}

func (r *sqlRows) Columns() []datasource.Column { return r.columns }

func (r *sqlRows) Next() bool { return r.rows.Next() }

func (r *sqlRows) Err() error { return classify(r.rows.Err(), "reading rows") }

func (r *sqlRows) Close() error { return r.rows.Close() }

func (r *sqlRows) Scan(rec *datasource.Record) error {
	if err := r.rows.Scan(r.scratch...); err != nil {
		return errors.Wrap(err, "scanning row")
	}
	stamp, err := toTime(*r.scratch[r.stampIdx].(*any))
	if err != nil {
		return err
	}
	recNo, err := toRecordNo(*r.scratch[r.recIdx].(*any))
	if err != nil {
		return err
	}
	rec.Stamp = stamp
	rec.RecordNo = recNo
	rec.Values = rec.Values[:0]
	for _, i := range r.valueIdx {
		v := *r.scratch[i].(*any)
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		rec.Values = append(rec.Values, v)
	}
	return nil
}

var stampLayouts = []string{"2006-01-02 15:04:05.999999999", time.RFC3339Nano}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return toTime(string(t))
	case string:
		for _, layout := range stampLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, nil
			}
		}
	}
	return time.Time{}, errors.Errorf("unusable %s value %v", StampColumn, v)
}

func toRecordNo(v any) (uint32, error) {
	switch n := v.(type) {
	case int64:
		return uint32(n), nil // #nosec G115 -- record numbers wrap at 32 bits
	case uint64:
		return uint32(n), nil // #nosec G115
	case int32:
		return uint32(n), nil // #nosec G115
	case uint32:
		return n, nil
	case []byte:
		return toRecordNo(string(n))
	case string:
		u, err := strconv.ParseUint(n, 10, 32)
		if err == nil {
			return uint32(u), nil
		}
	}
	return 0, errors.Errorf("unusable %s value %v", RecordNoColumn, v)
}

// sliceRows serves records read ahead of time.
type sliceRows struct {
	columns []datasource.Column
	records []datasource.Record
	pos     int
}

func bufferReversed(src Rows) (Rows, error) {
	out := &sliceRows{columns: src.Columns(), pos: -1}
	for src.Next() {
		var rec datasource.Record
		if err := src.Scan(&rec); err != nil {
			return nil, err
		}
		out.records = append(out.records, rec)
	}
	if err := src.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out.records)-1; i < j; i, j = i+1, j-1 {
		out.records[i], out.records[j] = out.records[j], out.records[i]
	}
	return out, nil
}

func (r *sliceRows) Columns() []datasource.Column { return r.columns }

func (r *sliceRows) Next() bool {
	r.pos++
	return r.pos < len(r.records)
}

func (r *sliceRows) Scan(rec *datasource.Record) error {
	src := r.records[r.pos]
	rec.Stamp = src.Stamp
	rec.RecordNo = src.RecordNo
	rec.Values = append(rec.Values[:0], src.Values...)
	return nil
}

func (r *sliceRows) Err() error { return nil }

func (r *sliceRows) Close() error { return nil }
