package saved

import (
	"context"
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/datasetviz/datasetviz/internal/arrowipc"
	"github.com/datasetviz/datasetviz/internal/dataset"
)

// RowCount is exact: the declared example count when present, otherwise the
// resident table length, otherwise the sum over shard metadata.
func (s *Split) RowCount(ctx context.Context) (int64, error) {
	if s.NumRows >= 0 {
		return s.NumRows, nil
	}
	if s.table != nil {
		return s.table.NumRows(), nil
	}
	shards, err := dataset.LocateSavedShards(s.Files())
	if err != nil {
		return 0, err
	}

	var total int64
	for _, file := range shards.ParquetFiles() {
		n, err := parquetRows(file)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", dataset.ErrSchemaExtraction, err)
		}
		total += n
	}
	arrowFiles := shards.ArrowFiles()
	if len(arrowFiles) == 0 {
		return total, nil
	}
	encodings, err := arrowipc.DetectAll(ctx, arrowFiles)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", dataset.ErrSchemaExtraction, err)
	}
	for i, file := range arrowFiles {
		n, err := arrowipc.CountRows(file, encodings[i])
		if err != nil {
			return 0, fmt.Errorf("%w: %v", dataset.ErrSchemaExtraction, err)
		}
		total += n
	}
	return total, nil
}

func parquetRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return 0, fmt.Errorf("read parquet footer %s: %w", path, err)
	}
	return pf.NumRows(), nil
}
