//go:build duckdb_arrow

package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/marcboeker/go-duckdb/v2"

	"github.com/datasetviz/datasetviz/internal/engine"
)

type arrowInterface = duckdb.Arrow

func openArrow(conn *sql.Conn) (*arrowInterface, error) {
	var ar *duckdb.Arrow
	err := conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return errors.New("unexpected duckdb driver connection type")
		}
		var err error
		ar, err = duckdb.NewArrowFromConn(dc)
		return err
	})
	return ar, err
}

func (c *Conn) Query(ctx context.Context, sqlText string) (engine.ResultHandle, error) {
	reader, err := c.arrow.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	return &result{reader: reader}, nil
}

// RegisterView exposes reader as a temporary view. DuckDB consumes the stream
// once, so the view yields rows on its first scan only.
func (c *Conn) RegisterView(name string, reader array.RecordReader) (func(), error) {
	release, err := c.arrow.RegisterView(reader, name)
	if err != nil {
		return nil, fmt.Errorf("register arrow view %q: %w", name, err)
	}
	return release, nil
}

type result struct {
	reader array.RecordReader
}

func (r *result) Table() (arrow.Table, error) {
	var records []arrow.Record
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()
	for r.reader.Next() {
		rec := r.reader.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := r.reader.Err(); err != nil {
		return nil, err
	}
	return array.NewTableFromRecords(r.reader.Schema(), records), nil
}

func (r *result) Close() {
	r.reader.Release()
}
