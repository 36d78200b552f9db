// Package mirror copies dataset trees between an object store and the local
// datasets root.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/datasetviz/datasetviz/internal/observability"
	"github.com/datasetviz/datasetviz/internal/storage"
)

const DefaultConcurrency = 4

const (
	resultDownloaded = "downloaded"
	resultUploaded   = "uploaded"
	resultSkipped    = "skipped"
	resultFailed     = "failed"
)

type Options struct {
	Concurrency int
	Logger      *slog.Logger
}

type Report struct {
	Dataset     string `json:"dataset"`
	Transferred int    `json:"transferred"`
	Skipped     int    `json:"skipped"`
	Bytes       int64  `json:"bytes"`
}

type Mirror struct {
	store       storage.ObjectStore
	root        string
	concurrency int
	logger      *slog.Logger
}

func New(store storage.ObjectStore, root string, opts Options) (*Mirror, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("datasets root is required")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Mirror{
		store:       store,
		root:        root,
		concurrency: concurrency,
		logger:      observability.Component(opts.Logger, "mirror"),
	}, nil
}

// Datasets lists the dataset names present in the object store.
func (m *Mirror) Datasets(ctx context.Context) ([]string, error) {
	objects, err := m.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, obj := range objects {
		if name, ok := storage.DatasetOf(obj.Key); ok {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// PullAll pulls every dataset in the object store.
func (m *Mirror) PullAll(ctx context.Context) ([]Report, error) {
	names, err := m.Datasets(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(names))
	for _, name := range names {
		report, err := m.Pull(ctx, name)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Pull downloads one dataset into the local root. Files whose local copy has
// the same size and is not older than the remote object are left alone.
func (m *Mirror) Pull(ctx context.Context, dataset string) (Report, error) {
	prefix, err := storage.DatasetPrefix(dataset)
	if err != nil {
		return Report{}, err
	}
	objects, err := m.store.List(ctx, prefix)
	if err != nil {
		return Report{}, err
	}
	if len(objects) == 0 {
		return Report{}, fmt.Errorf("dataset %q: %w", dataset, storage.ErrObjectNotFound)
	}

	tally := &tally{report: Report{Dataset: dataset}}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, obj := range objects {
		g.Go(func() error {
			return m.pullObject(gctx, obj, tally)
		})
	}
	if err := g.Wait(); err != nil {
		return tally.snapshot(), err
	}
	report := tally.snapshot()
	m.logger.Info("dataset pulled",
		slog.String("dataset", dataset),
		slog.Int("downloaded", report.Transferred),
		slog.Int("skipped", report.Skipped),
		slog.Int64("bytes", report.Bytes),
	)
	return report, nil
}

// Push uploads one local dataset directory. Objects that already exist with
// the same size are skipped.
func (m *Mirror) Push(ctx context.Context, dataset string) (Report, error) {
	prefix, err := storage.DatasetPrefix(dataset)
	if err != nil {
		return Report{}, err
	}
	dir := filepath.Join(m.root, dataset)
	info, err := os.Stat(dir)
	if err != nil {
		return Report{}, fmt.Errorf("stat dataset %q: %w", dir, err)
	}
	if !info.IsDir() {
		return Report{}, fmt.Errorf("dataset %q is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("walk dataset %q: %w", dir, err)
	}

	tally := &tally{report: Report{Dataset: dataset}}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return Report{}, err
		}
		key := prefix + filepath.ToSlash(rel)
		g.Go(func() error {
			return m.pushFile(gctx, path, key, tally)
		})
	}
	if err := g.Wait(); err != nil {
		return tally.snapshot(), err
	}
	report := tally.snapshot()
	m.logger.Info("dataset pushed",
		slog.String("dataset", dataset),
		slog.Int("uploaded", report.Transferred),
		slog.Int("skipped", report.Skipped),
		slog.Int64("bytes", report.Bytes),
	)
	return report, nil
}

func (m *Mirror) pullObject(ctx context.Context, obj storage.ObjectInfo, t *tally) error {
	target, err := storage.LocalPath(m.root, obj.Key)
	if err != nil {
		m.logger.Warn("skipping object with unusable key", slog.String("key", obj.Key), slog.Any("error", err))
		observability.ObserveMirrorObject(resultSkipped, 0)
		t.skip()
		return nil
	}
	if local, err := os.Stat(target); err == nil && local.Mode().IsRegular() && upToDate(local, obj) {
		observability.ObserveMirrorObject(resultSkipped, 0)
		t.skip()
		return nil
	}

	written, err := m.download(ctx, obj, target)
	if err != nil {
		observability.ObserveMirrorObject(resultFailed, 0)
		return err
	}
	observability.ObserveMirrorObject(resultDownloaded, written)
	t.transfer(written)
	return nil
}

func (m *Mirror) download(ctx context.Context, obj storage.ObjectInfo, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, fmt.Errorf("create directory for %q: %w", target, err)
	}
	body, err := m.store.Get(ctx, obj.Key)
	if err != nil {
		return 0, fmt.Errorf("get %q: %w", obj.Key, err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), ".mirror-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file for %q: %w", target, err)
	}
	tmpName := tmp.Name()
	written, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("download %q: %w", obj.Key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("install %q: %w", target, err)
	}
	if !obj.LastModified.IsZero() {
		if err := os.Chtimes(target, obj.LastModified, obj.LastModified); err != nil {
			return 0, fmt.Errorf("set mtime on %q: %w", target, err)
		}
	}
	return written, nil
}

func (m *Mirror) pushFile(ctx context.Context, path, key string, t *tally) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %q: %w", path, err)
	}
	remote, err := m.store.Stat(ctx, key)
	switch {
	case err == nil && remote.Size == info.Size():
		observability.ObserveMirrorObject(resultSkipped, 0)
		t.skip()
		return nil
	case err != nil && !errors.Is(err, storage.ErrObjectNotFound):
		observability.ObserveMirrorObject(resultFailed, 0)
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer file.Close()
	if _, err := m.store.Put(ctx, key, file, info.Size(), storage.PutOptions{ContentType: contentType(path)}); err != nil {
		observability.ObserveMirrorObject(resultFailed, 0)
		return err
	}
	observability.ObserveMirrorObject(resultUploaded, info.Size())
	t.transfer(info.Size())
	return nil
}

func upToDate(local os.FileInfo, remote storage.ObjectInfo) bool {
	if local.Size() != remote.Size {
		return false
	}
	return remote.LastModified.IsZero() || !local.ModTime().Before(remote.LastModified)
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "application/json"
	case ".arrow":
		return "application/vnd.apache.arrow.file"
	default:
		return "application/octet-stream"
	}
}

type tally struct {
	mu     sync.Mutex
	report Report
}

func (t *tally) transfer(bytes int64) {
	t.mu.Lock()
	t.report.Transferred++
	t.report.Bytes += bytes
	t.mu.Unlock()
}

func (t *tally) skip() {
	t.mu.Lock()
	t.report.Skipped++
	t.mu.Unlock()
}

func (t *tally) snapshot() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report
}
