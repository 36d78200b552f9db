package explorer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/datasetviz/datasetviz/internal/dataset"
	"github.com/datasetviz/datasetviz/internal/dataset/saved"
	"github.com/datasetviz/datasetviz/internal/engine/duckdb"
	"github.com/datasetviz/datasetviz/internal/history"
	"github.com/datasetviz/datasetviz/internal/pool"
	"github.com/datasetviz/datasetviz/internal/query"
	"github.com/datasetviz/datasetviz/internal/testutil"
)

func intPtr(v int) *int { return &v }

type fixture struct {
	root    string
	service *Service
	pool    *pool.Pool
	history *history.Memory
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()

	testutil.WriteParquet(t, filepath.Join(root, "shards", "part-0.parquet"), testutil.Rows(1, 3))
	testutil.WriteParquet(t, filepath.Join(root, "shards", "part-1.parquet"), testutil.Rows(4, 4))

	testutil.WriteFile(t, filepath.Join(root, "imdb", "state.json"), `{}`)
	rec := testutil.RowRecord(testutil.Rows(1, 5))
	testutil.WriteArrowStream(t, filepath.Join(root, "imdb", "train", "data-00000-of-00001.arrow"), testutil.RowSchema, rec)
	rec.Release()

	single := testutil.RowRecord(testutil.Rows(100, 2))
	testutil.WriteArrowFile(t, filepath.Join(root, "single.arrow"), testutil.RowSchema, single)
	single.Release()

	testutil.WriteFile(t, filepath.Join(root, "cache_only", "dataset_info.json"), `{}`)
	testutil.WriteFile(t, filepath.Join(root, "notes.txt"), "hello")

	p, err := pool.New(context.Background(), 2, duckdb.Opener(duckdb.Options{Threads: 1}), pool.Options{})
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	mem := history.NewMemory(16)
	service, err := NewService(Dependencies{
		Resolver: dataset.NewResolver(root),
		Cache:    saved.NewCache(4, saved.LoadOptions{}),
		Pool:     p,
		Executor: query.NewExecutor(1000, 5000),
		History:  mem,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return fixture{root: root, service: service, pool: p, history: mem}
}

func TestListDatasets(t *testing.T) {
	f := newFixture(t)
	names, err := f.service.ListDatasets(context.Background(), "")
	if err != nil {
		t.Fatalf("ListDatasets() error = %v", err)
	}
	want := []string{"cache_only", "imdb", "shards", "single.arrow"}
	if len(names) != len(want) {
		t.Fatalf("ListDatasets() = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("ListDatasets() = %v", names)
		}
	}
}

func TestQueryParquetShardsPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Query(ctx, "", "shards", QueryRequest{SQL: "SELECT * FROM t ORDER BY id", Limit: intPtr(5)})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if first.RowCount != 5 || !first.Truncated {
		t.Fatalf("first page = %d rows truncated=%v", first.RowCount, first.Truncated)
	}

	second, err := f.service.Query(ctx, "", "shards", QueryRequest{SQL: "SELECT * FROM t ORDER BY id", Limit: intPtr(5), Offset: intPtr(5)})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if second.RowCount != 2 || second.Truncated {
		t.Fatalf("second page = %d rows truncated=%v", second.RowCount, second.Truncated)
	}

	if stats := f.pool.Stats(); stats.Idle != 2 || stats.Overflow != 0 {
		t.Fatalf("pool stats = %+v", stats)
	}
}

func TestSavedDatasetSplitDiscovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	splits, err := f.service.ListSplits(ctx, "", "imdb")
	if err != nil {
		t.Fatalf("ListSplits() error = %v", err)
	}
	if len(splits) != 1 || splits[0] != "train" {
		t.Fatalf("ListSplits() = %v", splits)
	}

	schema, err := f.service.Schema(ctx, "", "imdb", "")
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	if schema.ApproxRows == nil || *schema.ApproxRows != 5 {
		t.Fatalf("ApproxRows = %v", schema.ApproxRows)
	}
	if len(schema.Columns) != 2 || schema.Columns[0].Name != "id" {
		t.Fatalf("Columns = %+v", schema.Columns)
	}

	result, err := f.service.Query(ctx, "", "imdb", QueryRequest{SQL: "SELECT COUNT(*) AS n FROM t"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Data[0][0] != int64(5) {
		t.Fatalf("count = %#v", result.Data[0][0])
	}
}

func TestSchemaForFileDatasetHasNoRowCount(t *testing.T) {
	f := newFixture(t)
	schema, err := f.service.Schema(context.Background(), "", "single.arrow", "")
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	if schema.ApproxRows != nil {
		t.Fatalf("ApproxRows = %v", *schema.ApproxRows)
	}
	if len(schema.Columns) != 2 || schema.Columns[0].DType != "int64" {
		t.Fatalf("Columns = %+v", schema.Columns)
	}
}

func TestCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for name, want := range map[string]int64{"shards": 7, "imdb": 5, "single.arrow": 2} {
		got, err := f.service.Count(ctx, "", name, "")
		if err != nil {
			t.Fatalf("Count(%s) error = %v", name, err)
		}
		if got != want {
			t.Fatalf("Count(%s) = %d, want %d", name, got, want)
		}
	}
}

func TestRequestErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		split string
		sql   string
		want  error
	}{
		{name: "../outside", sql: "SELECT 1", want: dataset.ErrPathEscape},
		{name: "missing", sql: "SELECT 1", want: dataset.ErrDatasetNotFound},
		{name: "cache_only", sql: "SELECT 1", want: dataset.ErrUnsupportedFormat},
		{name: "notes.txt", sql: "SELECT 1", want: dataset.ErrUnsupportedFormat},
		{name: "shards", split: "train", sql: "SELECT 1", want: dataset.ErrSplitNotFound},
		{name: "imdb", split: "test", sql: "SELECT 1", want: dataset.ErrSplitNotFound},
		{name: "shards", sql: "   ", want: dataset.ErrInvalidQuery},
		{name: "shards", sql: "SELECT nope FROM t", want: dataset.ErrQueryExecution},
	}
	for _, tc := range cases {
		_, err := f.service.Query(ctx, "", tc.name, QueryRequest{SQL: tc.sql, Split: tc.split})
		if !errors.Is(err, tc.want) {
			t.Fatalf("Query(%s, split=%q) error = %v, want %v", tc.name, tc.split, err, tc.want)
		}
	}
	if _, err := f.service.ListDatasets(ctx, filepath.Join(f.root, "nowhere")); !errors.Is(err, dataset.ErrRootNotFound) {
		t.Fatalf("ListDatasets() error = %v", err)
	}
	if stats := f.pool.Stats(); stats.Idle != 2 {
		t.Fatalf("connections leaked, stats = %+v", stats)
	}
}

func TestQueryRecordsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.Query(ctx, "", "shards", QueryRequest{SQL: "SELECT * FROM t", Limit: intPtr(2)}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if _, err := f.service.Query(ctx, "", "shards", QueryRequest{SQL: "SELECT bad FROM t"}); err == nil {
		t.Fatalf("expected query failure")
	}

	entries, err := f.history.List(ctx, history.ListFilter{Dataset: "shards"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].ErrorCode != "QUERY_EXECUTION_FAILED" {
		t.Fatalf("newest entry = %+v", entries[0])
	}
	if entries[1].RowCount != 2 || !entries[1].Truncated || entries[1].Split != dataset.DefaultSplit {
		t.Fatalf("oldest entry = %+v", entries[1])
	}
}

func TestSchemaAndCountAgreeWithQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"shards", "imdb", "single.arrow"} {
		first, err := f.service.Schema(ctx, "", name, "")
		if err != nil {
			t.Fatalf("Schema(%s) error = %v", name, err)
		}
		again, err := f.service.Schema(ctx, "", name, "")
		if err != nil {
			t.Fatalf("Schema(%s) error = %v", name, err)
		}
		if len(first.Columns) != len(again.Columns) {
			t.Fatalf("Schema(%s) columns changed: %+v vs %+v", name, first.Columns, again.Columns)
		}
		for i := range first.Columns {
			if first.Columns[i] != again.Columns[i] {
				t.Fatalf("Schema(%s) columns changed: %+v vs %+v", name, first.Columns, again.Columns)
			}
		}

		rows, err := f.service.Count(ctx, "", name, "")
		if err != nil {
			t.Fatalf("Count(%s) error = %v", name, err)
		}
		result, err := f.service.Query(ctx, "", name, QueryRequest{SQL: "SELECT * FROM t", Limit: intPtr(int(rows))})
		if err != nil {
			t.Fatalf("Query(%s) error = %v", name, err)
		}
		if int64(result.RowCount) != rows || result.Truncated {
			t.Fatalf("Query(%s) = %d rows truncated=%v, want %d", name, result.RowCount, result.Truncated, rows)
		}
		if len(result.Columns) != len(first.Columns) {
			t.Fatalf("Query(%s) columns = %v, schema = %+v", name, result.Columns, first.Columns)
		}
		for i, col := range result.Columns {
			if col != first.Columns[i].Name {
				t.Fatalf("Query(%s) columns = %v, schema = %+v", name, result.Columns, first.Columns)
			}
		}
	}
}

func TestPagingReproducesOrderedResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const pageSize = 3
	var ids []any
	for offset := 0; ; offset += pageSize {
		page, err := f.service.Query(ctx, "", "shards", QueryRequest{
			SQL:    "SELECT id FROM t ORDER BY id",
			Limit:  intPtr(pageSize),
			Offset: intPtr(offset),
		})
		if err != nil {
			t.Fatalf("Query(offset=%d) error = %v", offset, err)
		}
		if page.RowCount == 0 {
			break
		}
		if page.RowCount > pageSize {
			t.Fatalf("Query(offset=%d) returned %d rows", offset, page.RowCount)
		}
		ids = append(ids, page.Data[0]...)
	}

	if len(ids) != 7 {
		t.Fatalf("paged ids = %v", ids)
	}
	for i, id := range ids {
		if id != int64(i+1) {
			t.Fatalf("paged ids = %v", ids)
		}
	}
}

func TestArrowDatasetReadsRelationTwice(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.Query(context.Background(), "", "imdb", QueryRequest{
		SQL: "SELECT (SELECT COUNT(*) FROM t) + (SELECT COUNT(*) FROM t) AS n",
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Data[0][0] != int64(10) {
		t.Fatalf("n = %#v", result.Data[0][0])
	}
}
