package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type ShardSource string

const (
	ShardSourceDeclared ShardSource = "declared"
	ShardSourceGlob     ShardSource = "glob"
	ShardSourceFlat     ShardSource = "flat"
)

// ShardSet is the ordered, de-duplicated list of files backing one split.
type ShardSet struct {
	Split  string
	Files  []string
	Source ShardSource
}

func (s ShardSet) ParquetFiles() []string {
	return filterFiles(s.Files, IsParquetFile)
}

func (s ShardSet) ArrowFiles() []string {
	return filterFiles(s.Files, IsArrowFile)
}

// SplitFiles is what a saved dataset split knows about its own storage.
type SplitFiles struct {
	Name      string
	Dir       string
	DataFiles []string
}

// LocateSavedShards prefers the split's declared data files that still exist,
// then falls back to globbing the split directory for parquet and then Arrow
// files.
func LocateSavedShards(split SplitFiles) (ShardSet, error) {
	declared := make([]string, 0, len(split.DataFiles))
	for _, file := range split.DataFiles {
		if info, err := os.Stat(file); err == nil && info.Mode().IsRegular() {
			declared = append(declared, file)
		}
	}
	if files := dedupe(declared); len(files) > 0 {
		return ShardSet{Split: split.Name, Files: files, Source: ShardSourceDeclared}, nil
	}

	if split.Dir != "" {
		if info, err := os.Stat(split.Dir); err == nil && info.IsDir() {
			for _, match := range []func(string) bool{IsParquetFile, IsArrowFile} {
				files, err := listFiles(split.Dir, match)
				if err != nil {
					return ShardSet{}, err
				}
				if len(files) > 0 {
					return ShardSet{Split: split.Name, Files: files, Source: ShardSourceGlob}, nil
				}
			}
		}
	}
	return ShardSet{}, fmt.Errorf("%w: split %q", ErrNoShardsFound, split.Name)
}

// LocateFlatShards handles parquet and Arrow datasets, which expose a single
// implicit split named "default".
func LocateFlatShards(path string, kind Kind, split string) (ShardSet, error) {
	if split = strings.TrimSpace(split); split != "" && split != DefaultSplit {
		return ShardSet{}, fmt.Errorf("%w: %q (available: %s)", ErrSplitNotFound, split, DefaultSplit)
	}

	var match func(string) bool
	switch kind {
	case KindParquet:
		match = IsParquetFile
	case KindArrow:
		match = IsArrowFile
	default:
		return ShardSet{}, fmt.Errorf("%w: %s is not a flat file format", ErrUnsupportedFormat, kind)
	}

	info, err := os.Stat(path)
	if err != nil {
		return ShardSet{}, fmt.Errorf("%w: %s", ErrDatasetNotFound, path)
	}
	if info.Mode().IsRegular() {
		return ShardSet{Split: DefaultSplit, Files: []string{path}, Source: ShardSourceFlat}, nil
	}
	files, err := listFiles(path, match)
	if err != nil {
		return ShardSet{}, err
	}
	if len(files) == 0 {
		return ShardSet{}, fmt.Errorf("%w: no %s files in %s", ErrNoShardsFound, kind, filepath.Base(path))
	}
	return ShardSet{Split: DefaultSplit, Files: files, Source: ShardSourceFlat}, nil
}

func filterFiles(files []string, match func(string) bool) []string {
	out := make([]string, 0, len(files))
	for _, file := range files {
		if match(file) {
			out = append(out, file)
		}
	}
	return out
}

func dedupe(files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, file := range files {
		clean := filepath.Clean(file)
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}
