package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveConfinesNameToRoot(t *testing.T) {
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "squad"))

	handle, err := NewResolver(root).Resolve("", "squad")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if handle.Name != "squad" {
		t.Fatalf("Name = %q", handle.Name)
	}
	if filepath.Base(handle.Path) != "squad" {
		t.Fatalf("Path = %q", handle.Path)
	}
	if filepath.Dir(handle.Path) != handle.Root {
		t.Fatalf("Path %q is not directly under root %q", handle.Path, handle.Root)
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	resolver := NewResolver(root)

	for _, name := range []string{"..", "../etc", "a/../../b", `..\x`, "/etc/passwd", "", "."} {
		_, err := resolver.Resolve("", name)
		if !errors.Is(err, ErrPathEscape) {
			t.Fatalf("Resolve(%q) error = %v, want ErrPathEscape", name, err)
		}
	}
}

func TestResolveRejectsParentSegmentEvenWhenTargetMissing(t *testing.T) {
	root := t.TempDir()
	_, err := NewResolver(root).Resolve("", "missing/../../nowhere")
	if !errors.Is(err, ErrPathEscape) {
		t.Fatalf("Resolve() error = %v, want ErrPathEscape", err)
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := NewResolver(root).Resolve("", "link")
	if !errors.Is(err, ErrPathEscape) {
		t.Fatalf("Resolve() error = %v, want ErrPathEscape", err)
	}
}

func TestResolveMissingDataset(t *testing.T) {
	_, err := NewResolver(t.TempDir()).Resolve("", "nope")
	if !errors.Is(err, ErrDatasetNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrDatasetNotFound", err)
	}
}

func TestResolveRootErrors(t *testing.T) {
	resolver := NewResolver("")
	if _, err := resolver.ResolveRoot(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, ErrRootNotFound) {
		t.Fatalf("ResolveRoot(missing) error = %v", err)
	}

	file := filepath.Join(t.TempDir(), "file.txt")
	mustWrite(t, file, "x")
	if _, err := resolver.ResolveRoot(file); !errors.Is(err, ErrRootNotDirectory) {
		t.Fatalf("ResolveRoot(file) error = %v", err)
	}
	if _, err := resolver.ResolveRoot(""); !errors.Is(err, ErrRootNotFound) {
		t.Fatalf("ResolveRoot(empty) error = %v", err)
	}
}

func TestResolveUsesRequestRootOverDefault(t *testing.T) {
	defaultRoot := t.TempDir()
	other := t.TempDir()
	mustMkdir(t, filepath.Join(other, "only-here"))

	if _, err := NewResolver(defaultRoot).Resolve(other, "only-here"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
