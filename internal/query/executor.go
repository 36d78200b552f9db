// Package query runs bounded, paginated SQL against the relation bound as t
// and inspects its schema.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/datasetviz/datasetviz/internal/dataset"
	"github.com/datasetviz/datasetviz/internal/engine"
)

const (
	DefaultLimit = 1000
	MaxLimit     = 5000
)

type Request struct {
	SQL    string
	Limit  *int
	Offset *int
}

// Result is columnar: Data[i] holds every value of Columns[i].
type Result struct {
	Columns   []string
	Data      [][]any
	RowCount  int
	Truncated bool
	Elapsed   time.Duration
}

func (r Result) ElapsedMs() float64 {
	return float64(r.Elapsed.Microseconds()) / 1000
}

type Executor struct {
	DefaultLimit int
	MaxLimit     int
}

func NewExecutor(defaultLimit, maxLimit int) *Executor {
	return &Executor{DefaultLimit: defaultLimit, MaxLimit: maxLimit}
}

// Prepare validates a request and returns the wrapped SQL plus the effective
// limit.
func (e *Executor) Prepare(req Request) (string, int, error) {
	sqlText := engine.StripTrailingSemicolons(req.SQL)
	if sqlText == "" {
		return "", 0, fmt.Errorf("%w: sql is required", dataset.ErrInvalidQuery)
	}
	offset := 0
	if req.Offset != nil {
		offset = *req.Offset
	}
	if offset < 0 {
		return "", 0, fmt.Errorf("%w: offset must be >= 0", dataset.ErrInvalidQuery)
	}
	limit := e.clampLimit(req.Limit)
	// One extra row tells whether the result was cut off.
	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS _q LIMIT %d OFFSET %d", sqlText, limit+1, offset)
	return wrapped, limit, nil
}

func (e *Executor) clampLimit(requested *int) int {
	maxLimit := e.MaxLimit
	if maxLimit < 1 {
		maxLimit = MaxLimit
	}
	limit := e.DefaultLimit
	if limit < 1 {
		limit = DefaultLimit
	}
	if requested != nil {
		limit = *requested
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

func (e *Executor) Execute(ctx context.Context, conn engine.Conn, req Request) (Result, error) {
	wrapped, limit, err := e.Prepare(req)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	handle, err := conn.Query(ctx, wrapped)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", dataset.ErrQueryExecution, engineMessage(err))
	}
	defer handle.Close()
	tbl, err := handle.Table()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", dataset.ErrQueryExecution, engineMessage(err))
	}
	defer tbl.Release()
	elapsed := time.Since(start)

	rows := int(tbl.NumRows())
	truncated := rows > limit
	if truncated {
		rows = limit
	}
	columns, data := columnar(tbl, rows)
	return Result{
		Columns:   columns,
		Data:      data,
		RowCount:  rows,
		Truncated: truncated,
		Elapsed:   elapsed,
	}, nil
}

// columnar copies the first rows rows of tbl into JSON-ready column slices.
func columnar(tbl arrow.Table, rows int) ([]string, [][]any) {
	schema := tbl.Schema()
	columns := make([]string, schema.NumFields())
	data := make([][]any, schema.NumFields())
	for i, field := range schema.Fields() {
		columns[i] = field.Name
		values := make([]any, 0, rows)
		for _, chunk := range tbl.Column(i).Data().Chunks() {
			for j := 0; j < chunk.Len() && len(values) < rows; j++ {
				values = append(values, chunk.GetOneForMarshal(j))
			}
			if len(values) == rows {
				break
			}
		}
		data[i] = values
	}
	return columns, data
}

func engineMessage(err error) string {
	return strings.TrimSpace(err.Error())
}
