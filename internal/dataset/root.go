package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Handle is a dataset reference confined to its root. Path is always a strict
// descendant of Root.
type Handle struct {
	Root string
	Name string
	Path string
}

type Resolver struct {
	DefaultRoot string
}

func NewResolver(defaultRoot string) *Resolver {
	return &Resolver{DefaultRoot: defaultRoot}
}

// ResolveRoot returns the absolute, symlink-free form of root, falling back to
// the configured default when root is empty.
func (r *Resolver) ResolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = r.DefaultRoot
	}
	if root == "" {
		return "", fmt.Errorf("%w: no root configured", ErrRootNotFound)
	}
	expanded, err := expandHome(root)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRootNotFound, root, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRootNotFound, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrRootNotFound, abs)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrRootNotFound, abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRootNotDirectory, abs)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRootNotFound, abs, err)
	}
	return resolved, nil
}

// Resolve confines name to root. Lexical checks run before anything below the
// root is touched; the symlink-resolved target is checked again afterwards.
func (r *Resolver) Resolve(root, name string) (Handle, error) {
	base, err := r.ResolveRoot(root)
	if err != nil {
		return Handle{}, err
	}
	if err := checkName(name); err != nil {
		return Handle{}, err
	}

	joined := filepath.Join(base, filepath.FromSlash(name))
	if !isDescendant(base, joined) {
		return Handle{}, fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	if _, err := os.Lstat(joined); err != nil {
		if os.IsNotExist(err) {
			return Handle{}, fmt.Errorf("%w: %q", ErrDatasetNotFound, name)
		}
		return Handle{}, fmt.Errorf("stat dataset %q: %w", name, err)
	}
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			return Handle{}, fmt.Errorf("%w: %q", ErrDatasetNotFound, name)
		}
		return Handle{}, fmt.Errorf("resolve dataset %q: %w", name, err)
	}
	if !isDescendant(base, resolved) {
		return Handle{}, fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	return Handle{Root: base, Name: name, Path: resolved}, nil
}

func checkName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed == "." {
		return fmt.Errorf("%w: dataset name must refer to an entry below the root", ErrPathEscape)
	}
	if filepath.IsAbs(trimmed) || strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, `\`) {
		return fmt.Errorf("%w: %q is absolute", ErrPathEscape, name)
	}
	for _, segment := range strings.FieldsFunc(trimmed, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == ".." {
			return fmt.Errorf("%w: %q", ErrPathEscape, name)
		}
	}
	return nil
}

func isDescendant(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
