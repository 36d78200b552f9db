package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Kind string

const (
	KindSavedDataset Kind = "saved"
	KindParquet      Kind = "parquet"
	KindArrow        Kind = "arrow"
)

// SavedDatasetMarker must be present for a directory to count as a saved
// dataset. Cache-style directories that only carry dataset_info.json are not
// loadable and fall through to the flat-file rules.
const SavedDatasetMarker = "state.json"

const DefaultSplit = "default"

var (
	parquetExtensions = []string{".parquet"}
	arrowExtensions   = []string{".arrow", ".ipc", ".feather"}
)

func IsParquetFile(name string) bool {
	return hasExtension(name, parquetExtensions)
}

func IsArrowFile(name string) bool {
	return hasExtension(name, arrowExtensions)
}

func DetectFormat(path string) (Kind, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	if info.Mode().IsRegular() {
		switch {
		case IsParquetFile(path):
			return KindParquet, nil
		case IsArrowFile(path):
			return KindArrow, nil
		}
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}

	if marker, err := os.Stat(filepath.Join(path, SavedDatasetMarker)); err == nil && marker.Mode().IsRegular() {
		return KindSavedDataset, nil
	}
	parquetFiles, err := listFiles(path, IsParquetFile)
	if err != nil {
		return "", err
	}
	if len(parquetFiles) > 0 {
		return KindParquet, nil
	}
	arrowFiles, err := listFiles(path, IsArrowFile)
	if err != nil {
		return "", err
	}
	if len(arrowFiles) > 0 {
		return KindArrow, nil
	}
	return "", fmt.Errorf("%w: expecting a saved dataset directory or parquet/arrow files", ErrUnsupportedFormat)
}

// listFiles returns the sorted regular files directly under dir accepted by match.
func listFiles(dir string, match func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !match(entry.Name()) {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		info, err := os.Stat(full)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, full)
	}
	sort.Strings(files)
	return files, nil
}

func hasExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, candidate := range extensions {
		if ext == candidate {
			return true
		}
	}
	return false
}
