// Package engine describes the capability the query layer needs from an
// embedded analytical engine connection.
package engine

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Conn is one engine connection. It is not safe for concurrent use; the pool
// hands each connection to a single request at a time.
type Conn interface {
	Exec(ctx context.Context, sql string) error
	Query(ctx context.Context, sql string) (ResultHandle, error)
	// RegisterView exposes reader as a connection-local view. The returned
	// release func must be called before the reader is released.
	RegisterView(name string, reader array.RecordReader) (release func(), err error)
	Close() error
}

// ResultHandle materializes a query result. Table may be called once.
type ResultHandle interface {
	Table() (arrow.Table, error)
	Close()
}

// Opener creates a fresh connection backed by its own in-memory database.
type Opener func(ctx context.Context) (Conn, error)
