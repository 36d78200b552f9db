package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datasetviz/datasetviz/internal/dataset"
	"github.com/datasetviz/datasetviz/internal/dataset/saved"
	"github.com/datasetviz/datasetviz/internal/engine/duckdb"
	"github.com/datasetviz/datasetviz/internal/explorer"
	"github.com/datasetviz/datasetviz/internal/history"
	"github.com/datasetviz/datasetviz/internal/pool"
	"github.com/datasetviz/datasetviz/internal/query"
	"github.com/datasetviz/datasetviz/internal/testutil"
)

func newServiceHandler(t *testing.T) (http.Handler, string) {
	t.Helper()
	root := t.TempDir()
	testutil.WriteParquet(t, filepath.Join(root, "shards", "part-0.parquet"), testutil.Rows(1, 3))
	testutil.WriteParquet(t, filepath.Join(root, "shards", "part-1.parquet"), testutil.Rows(4, 3))
	testutil.WriteFile(t, filepath.Join(root, "imdb", "state.json"), `{}`)
	testutil.WriteFile(t, filepath.Join(root, "imdb", "dataset_dict.json"), `{"splits":["train","test"]}`)
	for split, first := range map[string]int64{"train": 1, "test": 50} {
		testutil.WriteFile(t, filepath.Join(root, "imdb", split, "state.json"), `{"_data_files":[{"filename":"data-00000-of-00001.arrow"}]}`)
		rec := testutil.RowRecord(testutil.Rows(first, 4))
		testutil.WriteArrowStream(t, filepath.Join(root, "imdb", split, "data-00000-of-00001.arrow"), testutil.RowSchema, rec)
		rec.Release()
	}
	outside := t.TempDir()
	testutil.WriteParquet(t, filepath.Join(outside, "secret.parquet"), testutil.Rows(1, 1))
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}

	p, err := pool.New(context.Background(), 1, duckdb.Opener(duckdb.Options{Threads: 1}), pool.Options{})
	if err != nil {
		t.Fatalf("pool.New() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	mem := history.NewMemory(16)
	service, err := explorer.NewService(explorer.Dependencies{
		Resolver: dataset.NewResolver(root),
		Cache:    saved.NewCache(2, saved.LoadOptions{}),
		Pool:     p,
		Executor: query.NewExecutor(3, 10),
		History:  mem,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return NewHandler(loadConfig(t, map[string]string{"DATASETVIZ_DATASETS_DIR": root}), Dependencies{Explorer: service, History: mem}), root
}

func TestServiceEndToEnd(t *testing.T) {
	h, _ := newServiceHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/datasets", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("datasets status = %d, body = %s", rr.Code, rr.Body.String())
	}
	names := decodeBody(t, rr)["datasets"].([]any)
	if len(names) != 2 || names[0] != "imdb" || names[1] != "shards" {
		t.Fatalf("datasets = %v", names)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/datasets/imdb/splits", nil))
	splits := decodeBody(t, rr)["splits"].([]any)
	if len(splits) != 2 || splits[0] != "train" || splits[1] != "test" {
		t.Fatalf("splits = %v", splits)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/datasets/shards/count", nil))
	if got := decodeBody(t, rr)["rows"]; got != float64(6) {
		t.Fatalf("rows = %v", got)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/datasets/imdb/query", strings.NewReader(`{"sql":"SELECT id FROM t ORDER BY id","split":"test"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("query status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["row_count"] != float64(3) || body["truncated"] != true {
		t.Fatalf("query body = %v", body)
	}
	ids := body["data"].([]any)[0].([]any)
	if ids[0] != float64(50) {
		t.Fatalf("first id = %v", ids[0])
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/history?dataset=imdb", nil))
	if entries := decodeBody(t, rr)["entries"].([]any); len(entries) != 1 {
		t.Fatalf("history entries = %v", entries)
	}
}

func TestServiceErrorStatuses(t *testing.T) {
	h, root := newServiceHandler(t)
	tests := []struct {
		method string
		target string
		body   string
		status int
		code   string
	}{
		{http.MethodGet, "/datasets/escape/schema", "", http.StatusBadRequest, "PATH_ESCAPE"},
		{http.MethodGet, "/datasets/missing/count", "", http.StatusNotFound, "DATASET_NOT_FOUND"},
		{http.MethodGet, "/datasets/imdb/schema?split=validation", "", http.StatusNotFound, "SPLIT_NOT_FOUND"},
		{http.MethodGet, "/datasets?root=" + filepath.Join(root, "nowhere"), "", http.StatusNotFound, "ROOT_NOT_FOUND"},
		{http.MethodPost, "/datasets/shards/query", `{"sql":"SELECT missing FROM t"}`, http.StatusBadRequest, "QUERY_EXECUTION_FAILED"},
		{http.MethodPost, "/datasets/shards/query", `{}`, http.StatusBadRequest, "INVALID_QUERY"},
	}
	for _, tc := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body)))
		if rr.Code != tc.status {
			t.Fatalf("%s %s status = %d, want %d (body=%s)", tc.method, tc.target, rr.Code, tc.status, rr.Body.String())
		}
		if got := decodeBody(t, rr)["error_code"]; got != tc.code {
			t.Fatalf("%s %s error_code = %v, want %s", tc.method, tc.target, got, tc.code)
		}
	}
}
