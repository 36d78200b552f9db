// Package saved loads saved-dataset directories: a state.json marker, optional
// dataset_dict.json split list, dataset_info.json metadata and per-split shard
// files.
package saved

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/datasetviz/datasetviz/internal/arrowipc"
	"github.com/datasetviz/datasetviz/internal/dataset"
)

const (
	stateFile       = "state.json"
	infoFile        = "dataset_info.json"
	datasetDictFile = "dataset_dict.json"
)

type LoadOptions struct {
	// InMemoryMaxBytes keeps a split's Arrow shards resident as a table when
	// their combined size is at most this many bytes. Zero disables it.
	InMemoryMaxBytes int64
	Allocator        memory.Allocator
}

type Dataset struct {
	Path   string
	splits []*Split
}

type Split struct {
	Name      string
	Dir       string
	DataFiles []string
	Features  []Feature
	// NumRows is -1 when dataset_info.json does not declare the split.
	NumRows int64

	table arrow.Table
}

func (d *Dataset) SplitNames() []string {
	names := make([]string, 0, len(d.splits))
	for _, split := range d.splits {
		names = append(names, split.Name)
	}
	return names
}

// Split returns the named split, or the first declared one when name is empty.
func (d *Dataset) Split(name string) (*Split, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if len(d.splits) == 0 {
			return nil, fmt.Errorf("%w: dataset declares no splits", dataset.ErrSplitNotFound)
		}
		return d.splits[0], nil
	}
	for _, split := range d.splits {
		if split.Name == name {
			return split, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (available: %s)", dataset.ErrSplitNotFound, name, strings.Join(d.SplitNames(), ", "))
}

func (s *Split) Files() dataset.SplitFiles {
	return dataset.SplitFiles{Name: s.Name, Dir: s.Dir, DataFiles: s.DataFiles}
}

// Table is the split's resident table, or nil when it was not loaded.
func (s *Split) Table() arrow.Table {
	return s.table
}

type stateJSON struct {
	DataFiles []struct {
		Filename string `json:"filename"`
	} `json:"_data_files"`
}

type infoJSON struct {
	Features json.RawMessage `json:"features"`
	Splits   map[string]struct {
		NumExamples *int64 `json:"num_examples"`
	} `json:"splits"`
}

type datasetDictJSON struct {
	Splits []string `json:"splits"`
}

func Load(ctx context.Context, path string, opts LoadOptions) (*Dataset, error) {
	var rootState stateJSON
	found, err := readJSON(filepath.Join(path, stateFile), &rootState)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s has no %s", dataset.ErrUnsupportedFormat, filepath.Base(path), stateFile)
	}
	var rootInfo infoJSON
	if _, err := readJSON(filepath.Join(path, infoFile), &rootInfo); err != nil {
		return nil, err
	}

	names, dirs, err := discoverSplits(path, rootState)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Path: path}
	for i, name := range names {
		split, err := loadSplit(name, dirs[i], path, rootState, rootInfo)
		if err != nil {
			return nil, err
		}
		if opts.InMemoryMaxBytes > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			split.table = residentTable(ctx, split, opts)
		}
		ds.splits = append(ds.splits, split)
	}
	return ds, nil
}

// discoverSplits returns split names with their directories, in declared order.
func discoverSplits(path string, rootState stateJSON) ([]string, []string, error) {
	var dict datasetDictJSON
	found, err := readJSON(filepath.Join(path, datasetDictFile), &dict)
	if err != nil {
		return nil, nil, err
	}
	if found && len(dict.Splits) > 0 {
		names := make([]string, 0, len(dict.Splits))
		dirs := make([]string, 0, len(dict.Splits))
		for _, name := range dict.Splits {
			if !validSplitName(name) {
				return nil, nil, fmt.Errorf("%w: invalid split name %q in %s", dataset.ErrUnsupportedFormat, name, datasetDictFile)
			}
			names = append(names, name)
			dirs = append(dirs, filepath.Join(path, name))
		}
		return names, dirs, nil
	}

	if len(rootState.DataFiles) > 0 {
		return []string{dataset.DefaultSplit}, []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read dataset dir %s: %w", path, err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if looksLikeSplit(filepath.Join(path, entry.Name())) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return []string{dataset.DefaultSplit}, []string{path}, nil
	}
	dirs := make([]string, 0, len(names))
	for _, name := range names {
		dirs = append(dirs, filepath.Join(path, name))
	}
	return names, dirs, nil
}

func looksLikeSplit(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if name == stateFile || dataset.IsParquetFile(name) || dataset.IsArrowFile(name) {
			return true
		}
	}
	return false
}

func loadSplit(name, dir, root string, rootState stateJSON, rootInfo infoJSON) (*Split, error) {
	state := rootState
	info := rootInfo
	if dir != root {
		state = stateJSON{}
		if _, err := readJSON(filepath.Join(dir, stateFile), &state); err != nil {
			return nil, err
		}
		var splitInfo infoJSON
		found, err := readJSON(filepath.Join(dir, infoFile), &splitInfo)
		if err != nil {
			return nil, err
		}
		if found {
			if len(splitInfo.Features) == 0 {
				splitInfo.Features = rootInfo.Features
			}
			if splitInfo.Splits == nil {
				splitInfo.Splits = rootInfo.Splits
			}
			info = splitInfo
		}
	}

	features, err := decodeFeatures(info.Features)
	if err != nil {
		return nil, fmt.Errorf("%w: split %q: %v", dataset.ErrSchemaExtraction, name, err)
	}
	split := &Split{Name: name, Dir: dir, Features: features, NumRows: -1}
	if declared, ok := info.Splits[name]; ok && declared.NumExamples != nil {
		split.NumRows = *declared.NumExamples
	}
	for _, file := range state.DataFiles {
		if file.Filename == "" || filepath.IsAbs(file.Filename) {
			continue
		}
		full := filepath.Join(dir, filepath.FromSlash(file.Filename))
		if rel, err := filepath.Rel(dir, full); err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		split.DataFiles = append(split.DataFiles, full)
	}
	return split, nil
}

// residentTable loads small Arrow splits into memory. Any failure just leaves
// the split without a table.
func residentTable(ctx context.Context, split *Split, opts LoadOptions) arrow.Table {
	shards, err := dataset.LocateSavedShards(split.Files())
	if err != nil {
		return nil
	}
	files := shards.ArrowFiles()
	if len(files) == 0 || len(files) != len(shards.Files) {
		return nil
	}
	var total int64
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			return nil
		}
		total += info.Size()
	}
	if total > opts.InMemoryMaxBytes {
		return nil
	}
	encodings, err := arrowipc.DetectAll(ctx, files)
	if err != nil {
		return nil
	}
	tbl, err := arrowipc.ReadMerged(files, encodings, opts.Allocator)
	if err != nil {
		return nil
	}
	return tbl
}

func validSplitName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%w: parse %s: %v", dataset.ErrUnsupportedFormat, filepath.Base(path), err)
	}
	return true, nil
}
