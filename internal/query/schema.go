package query

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/datasetviz/datasetviz/internal/dataset"
	"github.com/datasetviz/datasetviz/internal/engine"
)

type Column struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
}

// Schema describes t. ApproxRows is nil when the row count is not known
// without a scan.
type Schema struct {
	Columns    []Column
	ApproxRows *int64
}

// Inspect reads the column names and Arrow types of t without fetching rows.
func Inspect(ctx context.Context, conn engine.Conn) ([]Column, error) {
	handle, err := conn.Query(ctx, "SELECT * FROM t LIMIT 0")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", dataset.ErrSchemaExtraction, engineMessage(err))
	}
	defer handle.Close()
	tbl, err := handle.Table()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", dataset.ErrSchemaExtraction, engineMessage(err))
	}
	defer tbl.Release()

	fields := tbl.Schema().Fields()
	columns := make([]Column, 0, len(fields))
	for _, field := range fields {
		columns = append(columns, Column{Name: field.Name, DType: field.Type.String()})
	}
	return columns, nil
}

// Count runs a full COUNT(*) over t.
func Count(ctx context.Context, conn engine.Conn) (int64, error) {
	handle, err := conn.Query(ctx, "SELECT COUNT(*) AS n FROM t")
	if err != nil {
		return 0, fmt.Errorf("%w: %s", dataset.ErrQueryExecution, engineMessage(err))
	}
	defer handle.Close()
	tbl, err := handle.Table()
	if err != nil {
		return 0, fmt.Errorf("%w: %s", dataset.ErrQueryExecution, engineMessage(err))
	}
	defer tbl.Release()

	if tbl.NumRows() != 1 || tbl.NumCols() != 1 {
		return 0, fmt.Errorf("%w: unexpected count result shape", dataset.ErrQueryExecution)
	}
	for _, chunk := range tbl.Column(0).Data().Chunks() {
		if chunk.Len() == 0 {
			continue
		}
		switch col := chunk.(type) {
		case *array.Int64:
			return col.Value(0), nil
		case *array.Uint64:
			return int64(col.Value(0)), nil
		case *array.Int32:
			return int64(col.Value(0)), nil
		}
		return 0, fmt.Errorf("%w: unexpected count type %s", dataset.ErrQueryExecution, chunk.DataType())
	}
	return 0, fmt.Errorf("%w: empty count result", dataset.ErrQueryExecution)
}
