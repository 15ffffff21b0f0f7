package dbsource

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/jtrauntvein/coratools/datasource"
)

// ListSources returns the database types whose drivers are linked in.
func (s *Source) ListSources() []DBType {
	drivers := make(map[string]bool)
	for _, d := range sql.Drivers() {
		drivers[d] = true
	}
	var out []DBType
	for _, t := range []DBType{DBTypeSQLServer, DBTypeMySQL, DBTypePostgreSQL} {
		if drivers[t.Driver()] {
			out = append(out, t)
		}
	}
	return out
}

// ListDatabases connects with cs and lists its databases.
func (s *Source) ListDatabases(ctx context.Context, cs ConnectString) ([]string, error) {
	var out []string
	err := s.withBackend(ctx, cs, func(b Backend) error {
		var err error
		out, err = b.ListDatabases(ctx)
		return err
	})
	return out, err
}

// ListTables connects with cs and lists the tables of its catalog.
func (s *Source) ListTables(ctx context.Context, cs ConnectString) ([]string, error) {
	var out []string
	err := s.withBackend(ctx, cs, func(b Backend) error {
		var err error
		out, err = b.ListTables(ctx)
		return err
	})
	return out, err
}

// ListColumns connects with cs and lists the columns of table.
func (s *Source) ListColumns(ctx context.Context, cs ConnectString, table string) ([]datasource.Column, error) {
	var out []datasource.Column
	err := s.withBackend(ctx, cs, func(b Backend) error {
		var err error
		out, err = b.ListColumns(ctx, table)
		return err
	})
	return out, err
}

// NumRecords connects with cs and counts the rows of table.
func (s *Source) NumRecords(ctx context.Context, cs ConnectString, table string) (int64, error) {
	var n int64
	err := s.withBackend(ctx, cs, func(b Backend) error {
		var err error
		n, err = b.Count(ctx, table)
		return err
	})
	return n, err
}

// TestConnection reports whether cs can be opened.
func (s *Source) TestConnection(ctx context.Context, cs ConnectString) error {
	return s.withBackend(ctx, cs, func(b Backend) error {
		return b.Ping(ctx)
	})
}

// withBackend runs fn against a fresh backend on a worker and blocks until
// it finishes or ctx is done.
func (s *Source) withBackend(ctx context.Context, cs ConnectString, fn func(Backend) error) error {
	cmd := newAdminCommand(func() error {
		b := s.newBackend()
		if err := b.Open(ctx, cs); err != nil {
			return err
		}
		defer b.Close()
		return fn(b)
	})
	if err := s.exec(cmd); err != nil {
		return errors.Wrap(err, "submitting command")
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
