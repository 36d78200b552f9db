// Package testutil writes small parquet and Arrow IPC fixtures for tests.
package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"
)

// Row is the shape shared by most fixtures.
type Row struct {
	ID    int64  `parquet:"id"`
	Value string `parquet:"value"`
}

// Rows returns n rows with ids starting at first.
func Rows(first int64, n int) []Row {
	rows := make([]Row, 0, n)
	for i := 0; i < n; i++ {
		id := first + int64(i)
		rows = append(rows, Row{ID: id, Value: "v" + strconv.FormatInt(id, 10)})
	}
	return rows
}

func WriteParquet[T any](t testing.TB, path string, rows []T) {
	t.Helper()
	mkdirParent(t, path)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create(%s) error = %v", path, err)
	}
	writer := parquet.NewGenericWriter[T](f)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("parquet Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("parquet Close() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close(%s) error = %v", path, err)
	}
}

// RowSchema is the Arrow layout of Row.
var RowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	{Name: "value", Type: arrow.BinaryTypes.String},
}, nil)

// RowRecord builds an Arrow record from rows. The caller releases it.
func RowRecord(rows []Row) arrow.Record {
	b := array.NewRecordBuilder(memory.DefaultAllocator, RowSchema)
	defer b.Release()
	ids := b.Field(0).(*array.Int64Builder)
	values := b.Field(1).(*array.StringBuilder)
	for _, r := range rows {
		ids.Append(r.ID)
		values.Append(r.Value)
	}
	return b.NewRecord()
}

// WriteArrowFile writes records in the footer-indexed IPC file encoding.
func WriteArrowFile(t testing.TB, path string, schema *arrow.Schema, recs ...arrow.Record) {
	t.Helper()
	mkdirParent(t, path)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create(%s) error = %v", path, err)
	}
	defer func() { _ = f.Close() }()
	writer, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	for _, rec := range recs {
		if err := writer.Write(rec); err != nil {
			t.Fatalf("arrow file Write() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("arrow file Close() error = %v", err)
	}
}

// WriteArrowStream writes records in the IPC stream encoding.
func WriteArrowStream(t testing.TB, path string, schema *arrow.Schema, recs ...arrow.Record) {
	t.Helper()
	mkdirParent(t, path)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create(%s) error = %v", path, err)
	}
	defer func() { _ = f.Close() }()
	writer := ipc.NewWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator))
	for _, rec := range recs {
		if err := writer.Write(rec); err != nil {
			t.Fatalf("arrow stream Write() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("arrow stream Close() error = %v", err)
	}
}

// WriteFile writes raw bytes, creating parent directories.
func WriteFile(t testing.TB, path string, data string) {
	t.Helper()
	mkdirParent(t, path)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

func mkdirParent(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll(%s) error = %v", filepath.Dir(path), err)
	}
}
