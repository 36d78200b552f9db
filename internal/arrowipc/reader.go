package arrowipc

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var ErrSchemaMismatch = errors.New("shard schemas differ")

// MultiReader streams the record batches of several shards in order, opening
// one shard at a time. It satisfies array.RecordReader and never holds more
// than one batch in memory.
type MultiReader struct {
	refs      atomic.Int64
	schema    *arrow.Schema
	paths     []string
	encodings []Encoding
	mem       memory.Allocator

	next int
	cur  recordSource
	rec  arrow.Record
	err  error
}

// NewMultiReader checks that every shard opens and carries the same schema.
// Shards are re-opened lazily while iterating.
func NewMultiReader(paths []string, encodings []Encoding, mem memory.Allocator) (*MultiReader, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one shard is required")
	}
	if len(paths) != len(encodings) {
		return nil, fmt.Errorf("got %d encodings for %d shards", len(encodings), len(paths))
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	var schema *arrow.Schema
	for i, path := range paths {
		src, err := openSource(path, encodings[i], mem)
		if err != nil {
			return nil, err
		}
		shardSchema := src.Schema()
		_ = src.Close()
		if schema == nil {
			schema = shardSchema
			continue
		}
		if !schema.Equal(shardSchema) {
			return nil, fmt.Errorf("%w: %s", ErrSchemaMismatch, path)
		}
	}

	r := &MultiReader{
		schema:    schema,
		paths:     append([]string(nil), paths...),
		encodings: append([]Encoding(nil), encodings...),
		mem:       mem,
	}
	r.refs.Store(1)
	return r, nil
}

func (r *MultiReader) Retain() {
	r.refs.Add(1)
}

func (r *MultiReader) Release() {
	if r.refs.Add(-1) == 0 {
		r.closeCurrent()
	}
}

func (r *MultiReader) Schema() *arrow.Schema { return r.schema }

func (r *MultiReader) Next() bool {
	r.rec = nil
	for r.err == nil {
		if r.cur == nil {
			if r.next >= len(r.paths) {
				return false
			}
			src, err := openSource(r.paths[r.next], r.encodings[r.next], r.mem)
			if err != nil {
				r.err = err
				return false
			}
			if !src.Schema().Equal(r.schema) {
				_ = src.Close()
				r.err = fmt.Errorf("%w: %s", ErrSchemaMismatch, r.paths[r.next])
				return false
			}
			r.cur = src
			r.next++
		}
		if r.cur.Next() {
			r.rec = r.cur.Record()
			return true
		}
		if err := r.cur.Err(); err != nil {
			r.err = err
		}
		r.closeCurrent()
	}
	return false
}

// Record returns the current batch, valid until the next call to Next.
func (r *MultiReader) Record() arrow.Record { return r.rec }

// RecordBatch mirrors Record for callers using the newer arrow naming.
func (r *MultiReader) RecordBatch() arrow.Record { return r.rec }

func (r *MultiReader) Err() error { return r.err }

func (r *MultiReader) closeCurrent() {
	r.rec = nil
	if r.cur != nil {
		_ = r.cur.Close()
		r.cur = nil
	}
}
