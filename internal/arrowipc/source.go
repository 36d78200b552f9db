package arrowipc

import (
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// recordSource iterates the record batches of one shard. The record returned
// by Record is owned by the source and valid until the next call to Next.
type recordSource interface {
	Schema() *arrow.Schema
	Next() bool
	Record() arrow.Record
	Err() error
	Close() error
}

func openSource(path string, enc Encoding, mem memory.Allocator) (recordSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", path, err)
	}
	switch enc {
	case EncodingFile:
		reader, err := ipc.NewFileReader(f, ipc.WithAllocator(mem))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open arrow file %s: %w", path, err)
		}
		return &fileSource{file: f, reader: reader}, nil
	case EncodingStream:
		reader, err := ipc.NewReader(f, ipc.WithAllocator(mem))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open arrow stream %s: %w", path, err)
		}
		if reader.Schema() == nil {
			err := reader.Err()
			reader.Release()
			_ = f.Close()
			return nil, fmt.Errorf("open arrow stream %s: missing schema: %v", path, err)
		}
		return &streamSource{file: f, reader: reader}, nil
	default:
		_ = f.Close()
		return nil, fmt.Errorf("unknown arrow encoding %d for %s", enc, path)
	}
}

type fileSource struct {
	file   *os.File
	reader *ipc.FileReader
	index  int
	rec    arrow.Record
	err    error
}

func (s *fileSource) Schema() *arrow.Schema { return s.reader.Schema() }

func (s *fileSource) Next() bool {
	if s.rec != nil {
		s.rec.Release()
		s.rec = nil
	}
	if s.err != nil || s.index >= s.reader.NumRecords() {
		return false
	}
	rec, err := s.reader.RecordAt(s.index)
	if err != nil {
		s.err = fmt.Errorf("read record %d: %w", s.index, err)
		return false
	}
	s.index++
	s.rec = rec
	return true
}

func (s *fileSource) Record() arrow.Record { return s.rec }

func (s *fileSource) Err() error { return s.err }

func (s *fileSource) Close() error {
	if s.rec != nil {
		s.rec.Release()
		s.rec = nil
	}
	_ = s.reader.Close()
	return s.file.Close()
}

type streamSource struct {
	file   *os.File
	reader *ipc.Reader
}

func (s *streamSource) Schema() *arrow.Schema { return s.reader.Schema() }

func (s *streamSource) Next() bool { return s.reader.Next() }

func (s *streamSource) Record() arrow.Record { return s.reader.Record() }

func (s *streamSource) Err() error { return s.reader.Err() }

func (s *streamSource) Close() error {
	s.reader.Release()
	return s.file.Close()
}

// ReadSchema opens a shard only far enough to learn its schema.
func ReadSchema(path string, enc Encoding) (*arrow.Schema, error) {
	src, err := openSource(path, enc, memory.DefaultAllocator)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()
	return src.Schema(), nil
}

// CountRows sums the batch lengths of one shard.
func CountRows(path string, enc Encoding) (int64, error) {
	src, err := openSource(path, enc, memory.DefaultAllocator)
	if err != nil {
		return 0, err
	}
	defer func() { _ = src.Close() }()

	var rows int64
	for src.Next() {
		rows += src.Record().NumRows()
	}
	if err := src.Err(); err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", path, err)
	}
	return rows, nil
}
