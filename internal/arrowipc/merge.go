package arrowipc

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var ErrIncompatibleSchemas = errors.New("shard schemas cannot be unified")

// PromoteSchemas unions the fields of several schemas by name, keeping first
// appearance order. A field missing from any schema becomes nullable. Types
// that differ are widened: null to anything, signed integers to int64,
// unsigned integers to uint64, mixed numerics to float64 and strings to
// large_string.
func PromoteSchemas(schemas []*arrow.Schema) (*arrow.Schema, error) {
	if len(schemas) == 0 {
		return nil, fmt.Errorf("at least one schema is required")
	}
	var fields []arrow.Field
	index := map[string]int{}
	seen := make([]int, 0)
	for _, schema := range schemas {
		for _, f := range schema.Fields() {
			pos, ok := index[f.Name]
			if !ok {
				index[f.Name] = len(fields)
				fields = append(fields, arrow.Field{Name: f.Name, Type: f.Type, Nullable: f.Nullable})
				seen = append(seen, 1)
				continue
			}
			seen[pos]++
			promoted, err := promoteType(fields[pos].Type, f.Type)
			if err != nil {
				return nil, fmt.Errorf("%w: column %q: %v", ErrIncompatibleSchemas, f.Name, err)
			}
			fields[pos].Type = promoted
			fields[pos].Nullable = fields[pos].Nullable || f.Nullable
		}
	}
	for i := range fields {
		if seen[i] < len(schemas) {
			fields[i].Nullable = true
		}
		if fields[i].Type.ID() == arrow.NULL {
			fields[i].Nullable = true
		}
	}
	return arrow.NewSchema(fields, nil), nil
}

func promoteType(a, b arrow.DataType) (arrow.DataType, error) {
	switch {
	case arrow.TypeEqual(a, b):
		return a, nil
	case a.ID() == arrow.NULL:
		return b, nil
	case b.ID() == arrow.NULL:
		return a, nil
	case isSigned(a) && isSigned(b):
		return arrow.PrimitiveTypes.Int64, nil
	case isUnsigned(a) && isUnsigned(b):
		return arrow.PrimitiveTypes.Uint64, nil
	case isNumeric(a) && isNumeric(b):
		return arrow.PrimitiveTypes.Float64, nil
	case isString(a) && isString(b):
		return arrow.BinaryTypes.LargeString, nil
	default:
		return nil, fmt.Errorf("%s vs %s", a, b)
	}
}

func isSigned(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64:
		return true
	}
	return false
}

func isUnsigned(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return true
	}
	return false
}

func isNumeric(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.FLOAT32, arrow.FLOAT64:
		return true
	}
	return isSigned(dt) || isUnsigned(dt)
}

func isString(dt arrow.DataType) bool {
	return dt.ID() == arrow.STRING || dt.ID() == arrow.LARGE_STRING
}

// ReadMerged loads every shard into one table under the promoted schema.
func ReadMerged(paths []string, encodings []Encoding, mem memory.Allocator) (arrow.Table, error) {
	if len(paths) != len(encodings) {
		return nil, fmt.Errorf("got %d encodings for %d shards", len(encodings), len(paths))
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	schemas := make([]*arrow.Schema, 0, len(paths))
	for i, path := range paths {
		schema, err := ReadSchema(path, encodings[i])
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	target, err := PromoteSchemas(schemas)
	if err != nil {
		return nil, err
	}

	var records []arrow.Record
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()
	for i, path := range paths {
		src, err := openSource(path, encodings[i], mem)
		if err != nil {
			return nil, err
		}
		for src.Next() {
			if src.Record().NumRows() == 0 {
				continue
			}
			rec, err := conform(mem, src.Record(), target)
			if err != nil {
				_ = src.Close()
				return nil, fmt.Errorf("conform %s: %w", path, err)
			}
			records = append(records, rec)
		}
		readErr := src.Err()
		_ = src.Close()
		if readErr != nil {
			return nil, fmt.Errorf("read %s: %w", path, readErr)
		}
	}
	return array.NewTableFromRecords(target, records), nil
}

// conform returns a new record laid out as target. The caller owns it.
func conform(mem memory.Allocator, rec arrow.Record, target *arrow.Schema) (arrow.Record, error) {
	rows := int(rec.NumRows())
	cols := make([]arrow.Array, 0, target.NumFields())
	defer func() {
		for _, col := range cols {
			col.Release()
		}
	}()
	for _, field := range target.Fields() {
		idx := rec.Schema().FieldIndices(field.Name)
		if len(idx) == 0 {
			cols = append(cols, array.MakeArrayOfNull(mem, field.Type, rows))
			continue
		}
		col := rec.Column(idx[0])
		if arrow.TypeEqual(col.DataType(), field.Type) {
			col.Retain()
			cols = append(cols, col)
			continue
		}
		widened, err := widen(mem, col, field.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", field.Name, err)
		}
		cols = append(cols, widened)
	}
	return array.NewRecord(target, cols, int64(rows)), nil
}

func widen(mem memory.Allocator, col arrow.Array, to arrow.DataType) (arrow.Array, error) {
	if col.DataType().ID() == arrow.NULL {
		return array.MakeArrayOfNull(mem, to, col.Len()), nil
	}
	switch to.ID() {
	case arrow.INT64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for i := 0; i < col.Len(); i++ {
			if col.IsNull(i) {
				b.AppendNull()
				continue
			}
			v, ok := signedAt(col, i)
			if !ok {
				return nil, fmt.Errorf("cannot widen %s to %s", col.DataType(), to)
			}
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.UINT64:
		b := array.NewUint64Builder(mem)
		defer b.Release()
		for i := 0; i < col.Len(); i++ {
			if col.IsNull(i) {
				b.AppendNull()
				continue
			}
			v, ok := unsignedAt(col, i)
			if !ok {
				return nil, fmt.Errorf("cannot widen %s to %s", col.DataType(), to)
			}
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.FLOAT64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for i := 0; i < col.Len(); i++ {
			if col.IsNull(i) {
				b.AppendNull()
				continue
			}
			v, ok := floatAt(col, i)
			if !ok {
				return nil, fmt.Errorf("cannot widen %s to %s", col.DataType(), to)
			}
			b.Append(v)
		}
		return b.NewArray(), nil
	case arrow.LARGE_STRING:
		b := array.NewLargeStringBuilder(mem)
		defer b.Release()
		src, ok := col.(*array.String)
		if !ok {
			return nil, fmt.Errorf("cannot widen %s to %s", col.DataType(), to)
		}
		for i := 0; i < src.Len(); i++ {
			if src.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(src.Value(i))
		}
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("cannot widen %s to %s", col.DataType(), to)
	}
}

func signedAt(col arrow.Array, i int) (int64, bool) {
	switch a := col.(type) {
	case *array.Int8:
		return int64(a.Value(i)), true
	case *array.Int16:
		return int64(a.Value(i)), true
	case *array.Int32:
		return int64(a.Value(i)), true
	case *array.Int64:
		return a.Value(i), true
	}
	return 0, false
}

func unsignedAt(col arrow.Array, i int) (uint64, bool) {
	switch a := col.(type) {
	case *array.Uint8:
		return uint64(a.Value(i)), true
	case *array.Uint16:
		return uint64(a.Value(i)), true
	case *array.Uint32:
		return uint64(a.Value(i)), true
	case *array.Uint64:
		return a.Value(i), true
	}
	return 0, false
}

func floatAt(col arrow.Array, i int) (float64, bool) {
	switch a := col.(type) {
	case *array.Float32:
		return float64(a.Value(i)), true
	case *array.Float64:
		return a.Value(i), true
	}
	if v, ok := signedAt(col, i); ok {
		return float64(v), true
	}
	if v, ok := unsignedAt(col, i); ok {
		return float64(v), true
	}
	return 0, false
}

// TableReader exposes a table as a record reader, one chunk per batch.
func TableReader(tbl arrow.Table) array.RecordReader {
	return array.NewTableReader(tbl, -1)
}
