package query

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datasetviz/datasetviz/internal/dataset"
	"github.com/datasetviz/datasetviz/internal/engine"
	"github.com/datasetviz/datasetviz/internal/engine/duckdb"
	"github.com/datasetviz/datasetviz/internal/testutil"
)

func intPtr(v int) *int { return &v }

// sevenRows binds t to two parquet shards holding ids 1..3 and 4..7.
func sevenRows(t *testing.T) engine.Conn {
	t.Helper()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.parquet")
	b := filepath.Join(dir, "b.parquet")
	testutil.WriteParquet(t, a, testutil.Rows(1, 3))
	testutil.WriteParquet(t, b, testutil.Rows(4, 4))

	conn, err := duckdb.Open(context.Background(), duckdb.Options{Threads: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	stmt := "CREATE OR REPLACE TEMP VIEW t AS SELECT * FROM read_parquet(" + engine.QuoteStringArray([]string{a, b}) + ", union_by_name = true)"
	if err := conn.Exec(context.Background(), stmt); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	return conn
}

func TestExecuteTruncatesAndPages(t *testing.T) {
	conn := sevenRows(t)
	exec := NewExecutor(DefaultLimit, MaxLimit)
	ctx := context.Background()

	first, err := exec.Execute(ctx, conn, Request{SQL: "SELECT id, value FROM t ORDER BY id", Limit: intPtr(5)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if first.RowCount != 5 || !first.Truncated {
		t.Fatalf("first page rows = %d truncated = %v", first.RowCount, first.Truncated)
	}
	if len(first.Columns) != 2 || first.Columns[0] != "id" || first.Columns[1] != "value" {
		t.Fatalf("Columns = %v", first.Columns)
	}
	if len(first.Data) != 2 || len(first.Data[0]) != 5 {
		t.Fatalf("Data shape = %d x %d", len(first.Data), len(first.Data[0]))
	}
	if first.Data[0][0] != int64(1) || first.Data[1][4] != "v5" {
		t.Fatalf("Data = %#v", first.Data)
	}

	second, err := exec.Execute(ctx, conn, Request{SQL: "SELECT id FROM t ORDER BY id;", Limit: intPtr(5), Offset: intPtr(5)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if second.RowCount != 2 || second.Truncated {
		t.Fatalf("second page rows = %d truncated = %v", second.RowCount, second.Truncated)
	}
	if second.Data[0][0] != int64(6) || second.Data[0][1] != int64(7) {
		t.Fatalf("second page = %#v", second.Data[0])
	}
}

func TestExecuteExactLimitIsNotTruncated(t *testing.T) {
	conn := sevenRows(t)
	result, err := NewExecutor(DefaultLimit, MaxLimit).Execute(context.Background(), conn, Request{SQL: "SELECT * FROM t", Limit: intPtr(7)})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 7 || result.Truncated {
		t.Fatalf("rows = %d truncated = %v", result.RowCount, result.Truncated)
	}
}

func TestExecuteReportsEngineErrors(t *testing.T) {
	conn := sevenRows(t)
	_, err := NewExecutor(DefaultLimit, MaxLimit).Execute(context.Background(), conn, Request{SQL: "SELECT missing_column FROM t"})
	if !errors.Is(err, dataset.ErrQueryExecution) {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(err.Error(), "missing_column") {
		t.Fatalf("error should carry the engine message: %v", err)
	}
}

func TestPrepareValidatesInput(t *testing.T) {
	exec := NewExecutor(1000, 5000)
	if _, _, err := exec.Prepare(Request{SQL: "  ;; "}); !errors.Is(err, dataset.ErrInvalidQuery) {
		t.Fatalf("Prepare(empty) error = %v", err)
	}
	if _, _, err := exec.Prepare(Request{SQL: "SELECT 1", Offset: intPtr(-1)}); !errors.Is(err, dataset.ErrInvalidQuery) {
		t.Fatalf("Prepare(negative offset) error = %v", err)
	}
}

func TestPrepareClampsLimit(t *testing.T) {
	exec := NewExecutor(1000, 5000)
	cases := []struct {
		limit *int
		want  int
	}{
		{nil, 1000},
		{intPtr(0), 1},
		{intPtr(-3), 1},
		{intPtr(20), 20},
		{intPtr(10000), 5000},
	}
	for _, tc := range cases {
		_, got, err := exec.Prepare(Request{SQL: "SELECT 1", Limit: tc.limit})
		if err != nil {
			t.Fatalf("Prepare() error = %v", err)
		}
		if got != tc.want {
			t.Fatalf("limit = %d, want %d", got, tc.want)
		}
	}
}

func TestPrepareWrapsSQL(t *testing.T) {
	wrapped, _, err := NewExecutor(1000, 5000).Prepare(Request{SQL: "SELECT * FROM t;", Limit: intPtr(10), Offset: intPtr(20)})
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if wrapped != "SELECT * FROM (SELECT * FROM t) AS _q LIMIT 11 OFFSET 20" {
		t.Fatalf("wrapped = %q", wrapped)
	}
}
