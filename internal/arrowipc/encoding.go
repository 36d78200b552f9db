// Package arrowipc reads Arrow IPC shards in either of the two IPC
// sub-encodings and exposes them as record readers or merged tables.
package arrowipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"golang.org/x/sync/errgroup"
)

type Encoding int

const (
	EncodingFile Encoding = iota + 1
	EncodingStream
)

func (e Encoding) String() string {
	switch e {
	case EncodingFile:
		return "file"
	case EncodingStream:
		return "stream"
	default:
		return "unknown"
	}
}

// streamContinuation is the 4-byte marker that opens every message of a
// modern IPC stream.
var streamContinuation = []byte{0xFF, 0xFF, 0xFF, 0xFF}

const maxDetectConcurrency = 8

// DetectEncoding classifies one shard: a leading continuation marker means
// stream; otherwise the footer-based file reader is tried, and a shard it
// cannot open is treated as a stream.
func DetectEncoding(path string) (Encoding, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open shard %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	prefix := make([]byte, len(streamContinuation))
	n, err := io.ReadFull(f, prefix)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("read shard prefix %s: %w", path, err)
	}
	if n == len(prefix) && bytes.Equal(prefix, streamContinuation) {
		return EncodingStream, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek shard %s: %w", path, err)
	}
	reader, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return EncodingStream, nil
	}
	_ = reader.Close()
	return EncodingFile, nil
}

// DetectAll classifies every shard concurrently; the result is index-aligned
// with paths.
func DetectAll(ctx context.Context, paths []string) ([]Encoding, error) {
	encodings := make([]Encoding, len(paths))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxDetectConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			enc, err := DetectEncoding(path)
			if err != nil {
				return err
			}
			encodings[i] = enc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return encodings, nil
}

// Uniform reports the shared encoding when every entry agrees.
func Uniform(encodings []Encoding) (Encoding, bool) {
	if len(encodings) == 0 {
		return 0, false
	}
	first := encodings[0]
	for _, enc := range encodings[1:] {
		if enc != first {
			return 0, false
		}
	}
	return first, true
}
