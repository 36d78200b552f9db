package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "single.parquet"), "PAR1")
	mustWrite(t, filepath.Join(root, "single.arrow"), "ARROW1")
	mustWrite(t, filepath.Join(root, "saved", "state.json"), "{}")
	mustWrite(t, filepath.Join(root, "saved", "data.parquet"), "PAR1")
	mustWrite(t, filepath.Join(root, "pq", "a.parquet"), "PAR1")
	mustWrite(t, filepath.Join(root, "pq", "b.arrow"), "ARROW1")
	mustWrite(t, filepath.Join(root, "ipc", "a.arrow"), "ARROW1")
	mustWrite(t, filepath.Join(root, "cache", "dataset_info.json"), "{}")
	mustWrite(t, filepath.Join(root, "cache", "shard.arrow"), "ARROW1")

	cases := map[string]Kind{
		"single.parquet": KindParquet,
		"single.arrow":   KindArrow,
		"saved":          KindSavedDataset,
		"pq":             KindParquet,
		"ipc":            KindArrow,
		"cache":          KindArrow,
	}
	for name, want := range cases {
		got, err := DetectFormat(filepath.Join(root, name))
		if err != nil {
			t.Fatalf("DetectFormat(%s) error = %v", name, err)
		}
		if got != want {
			t.Fatalf("DetectFormat(%s) = %q, want %q", name, got, want)
		}
	}
}

func TestDetectFormatUnsupported(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "notes.txt"), "hi")
	mustWrite(t, filepath.Join(root, "infoonly", "dataset_info.json"), "{}")
	mustMkdir(t, filepath.Join(root, "empty"))

	for _, name := range []string{"notes.txt", "infoonly", "empty"} {
		if _, err := DetectFormat(filepath.Join(root, name)); !errors.Is(err, ErrUnsupportedFormat) {
			t.Fatalf("DetectFormat(%s) error = %v, want ErrUnsupportedFormat", name, err)
		}
	}
}

func TestCode(t *testing.T) {
	cases := map[error]string{
		fmt.Errorf("%w: x", ErrPathEscape):                               "PATH_ESCAPE",
		fmt.Errorf("%w: %w", ErrRelationBuild, errors.New("boom")):       "RELATION_BUILD_FAILED",
		fmt.Errorf("wrapped: %w", fmt.Errorf("%w: y", ErrSplitNotFound)): "SPLIT_NOT_FOUND",
		errors.New("plain"): "INTERNAL",
	}
	for err, want := range cases {
		if got := Code(err); got != want {
			t.Fatalf("Code(%v) = %s, want %s", err, got, want)
		}
	}
}
