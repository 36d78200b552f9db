package dataset

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// List returns dataset names under root: every visible subdirectory plus
// top-level parquet and Arrow files.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read root %s: %w", root, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() || IsParquetFile(name) || IsArrowFile(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
