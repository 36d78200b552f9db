package storage

import (
	"path/filepath"
	"testing"
)

func TestDatasetPrefix(t *testing.T) {
	prefix, err := DatasetPrefix("squad")
	if err != nil {
		t.Fatalf("DatasetPrefix() error = %v", err)
	}
	if prefix != "squad/" {
		t.Fatalf("DatasetPrefix() = %q, want %q", prefix, "squad/")
	}
	if _, err := DatasetPrefix("../oops"); err == nil {
		t.Fatal("expected invalid component error")
	}
}

func TestDatasetOf(t *testing.T) {
	name, ok := DatasetOf("squad/train/data-00000.arrow")
	if !ok || name != "squad" {
		t.Fatalf("DatasetOf() = %q/%v", name, ok)
	}
	if _, ok := DatasetOf("loose.parquet"); ok {
		t.Fatal("expected top-level file to have no dataset")
	}
	if _, ok := DatasetOf(".hidden/x.parquet"); ok {
		t.Fatal("expected dotfile prefix to be rejected")
	}
}

func TestLocalPath(t *testing.T) {
	root := t.TempDir()
	got, err := LocalPath(root, "squad/train/state.json")
	if err != nil {
		t.Fatalf("LocalPath() error = %v", err)
	}
	want := filepath.Join(root, "squad", "train", "state.json")
	if got != want {
		t.Fatalf("LocalPath() = %q, want %q", got, want)
	}

	for _, key := range []string{"", "/", "../escape.parquet", "squad/.git/config"} {
		if _, err := LocalPath(root, key); err == nil {
			t.Fatalf("LocalPath(%q) expected error", key)
		}
	}
}
