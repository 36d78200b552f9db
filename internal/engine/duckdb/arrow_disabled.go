//go:build !duckdb_arrow

package duckdb

import (
	"context"
	"database/sql"

	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/datasetviz/datasetviz/internal/engine"
)

type arrowInterface struct{}

func openArrow(*sql.Conn) (*arrowInterface, error) {
	return nil, ErrArrowUnavailable
}

func (c *Conn) Query(context.Context, string) (engine.ResultHandle, error) {
	return nil, ErrArrowUnavailable
}

func (c *Conn) RegisterView(string, array.RecordReader) (func(), error) {
	return nil, ErrArrowUnavailable
}
