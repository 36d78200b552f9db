// Package duckdb implements engine connections on an embedded DuckDB
// database, one in-memory database per connection.
//
// Arrow results and Arrow view registration come from go-duckdb's Arrow
// interface, which is only compiled with the duckdb_arrow build tag. Without
// it Open fails with ErrArrowUnavailable.
package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/datasetviz/datasetviz/internal/engine"
)

// ErrArrowUnavailable is returned by Open when the binary was built without
// the duckdb_arrow tag.
var ErrArrowUnavailable = errors.New("duckdb arrow interface unavailable: build with -tags duckdb_arrow")

type Options struct {
	// Threads caps DuckDB worker threads per database; zero keeps the default.
	Threads int
}

type Conn struct {
	db    *sql.DB
	conn  *sql.Conn
	arrow *arrowInterface
}

var _ engine.Conn = (*Conn)(nil)

// Opener returns an engine.Opener producing isolated in-memory databases.
func Opener(opts Options) engine.Opener {
	return func(ctx context.Context) (engine.Conn, error) {
		return Open(ctx, opts)
	}
}

func Open(ctx context.Context, opts Options) (*Conn, error) {
	connector, err := duckdb.NewConnector("", func(execer driver.ExecerContext) error {
		if opts.Threads <= 0 {
			return nil
		}
		_, err := execer.ExecContext(context.Background(), fmt.Sprintf("SET threads = %d", opts.Threads), nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db := sql.OpenDB(connector)
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open duckdb connection: %w", err)
	}

	ar, err := openArrow(conn)
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, fmt.Errorf("open duckdb arrow interface: %w", err)
	}
	return &Conn{db: db, conn: conn, arrow: ar}, nil
}

func (c *Conn) Exec(ctx context.Context, sqlText string) error {
	_, err := c.conn.ExecContext(ctx, sqlText)
	return err
}

func (c *Conn) Close() error {
	return errors.Join(c.conn.Close(), c.db.Close())
}
