package storage

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// DatasetPrefix returns the object key prefix holding one dataset.
func DatasetPrefix(dataset string) (string, error) {
	if err := validatePathComponent(dataset, "dataset name"); err != nil {
		return "", err
	}
	return dataset + "/", nil
}

// DatasetOf returns the top-level dataset name of an object key, or false
// when the key has no usable first component.
func DatasetOf(key string) (string, bool) {
	key = strings.TrimPrefix(key, "/")
	first, _, found := strings.Cut(key, "/")
	if !found || validatePathComponent(first, "dataset name") != nil {
		return "", false
	}
	return first, true
}

// LocalPath maps an object key onto a file below root. Keys that would land
// outside root are rejected.
func LocalPath(root, key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	for _, part := range strings.Split(key, "/") {
		if strings.HasPrefix(part, ".") {
			return "", fmt.Errorf("invalid object key: %q", key)
		}
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %q: %w", root, err)
	}
	target := filepath.Join(absRoot, filepath.FromSlash(path.Clean(key)))
	rel, err := filepath.Rel(absRoot, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return target, nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
