package mirror

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/datasetviz/datasetviz/internal/storage"
)

func TestPullDownloadsDatasetTree(t *testing.T) {
	store := newMemoryStore()
	store.put("squad/dataset_dict.json", `{"splits":["train"]}`)
	store.put("squad/train/state.json", `{"_data_files":[{"filename":"data-00000-of-00001.arrow"}]}`)
	store.put("squad/train/data-00000-of-00001.arrow", "ARROW1")
	store.put("other/x.parquet", "PAR1")

	root := t.TempDir()
	m, err := New(store, root, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	report, err := m.Pull(context.Background(), "squad")
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if report.Transferred != 3 || report.Skipped != 0 {
		t.Fatalf("Pull() report = %+v", report)
	}
	got, err := os.ReadFile(filepath.Join(root, "squad", "train", "data-00000-of-00001.arrow"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "ARROW1" {
		t.Fatalf("downloaded payload = %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "other")); !os.IsNotExist(err) {
		t.Fatalf("other dataset should not be pulled, stat error = %v", err)
	}

	again, err := m.Pull(context.Background(), "squad")
	if err != nil {
		t.Fatalf("Pull() second run error = %v", err)
	}
	if again.Transferred != 0 || again.Skipped != 3 {
		t.Fatalf("Pull() second report = %+v", again)
	}
}

func TestPullRefreshesChangedObjects(t *testing.T) {
	store := newMemoryStore()
	store.put("squad/data.parquet", "v1")
	root := t.TempDir()
	m, err := New(store, root, Options{Concurrency: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := m.Pull(context.Background(), "squad"); err != nil {
		t.Fatalf("Pull() error = %v", err)
	}

	store.put("squad/data.parquet", "v2-longer")
	report, err := m.Pull(context.Background(), "squad")
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if report.Transferred != 1 {
		t.Fatalf("Pull() report = %+v", report)
	}
	got, err := os.ReadFile(filepath.Join(root, "squad", "data.parquet"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "v2-longer" {
		t.Fatalf("payload = %q", got)
	}
}

func TestPullMissingDataset(t *testing.T) {
	m, err := New(newMemoryStore(), t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := m.Pull(context.Background(), "missing"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Pull() error = %v, want ErrObjectNotFound", err)
	}
	if _, err := m.Pull(context.Background(), "../escape"); err == nil {
		t.Fatal("Pull() expected invalid dataset name error")
	}
}

func TestPullSkipsUnsafeKeys(t *testing.T) {
	store := newMemoryStore()
	store.put("squad/.cache/lock", "x")
	store.put("squad/data.parquet", "PAR1")
	root := t.TempDir()
	m, err := New(store, root, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	report, err := m.Pull(context.Background(), "squad")
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if report.Transferred != 1 || report.Skipped != 1 {
		t.Fatalf("Pull() report = %+v", report)
	}
	if _, err := os.Stat(filepath.Join(root, "squad", ".cache")); !os.IsNotExist(err) {
		t.Fatalf("dot directory should not be created, stat error = %v", err)
	}
}

func TestPullAllAndDatasets(t *testing.T) {
	store := newMemoryStore()
	store.put("b/x.parquet", "1")
	store.put("a/y.parquet", "2")
	store.put("loose.parquet", "3")
	m, err := New(store, t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	names, err := m.Datasets(context.Background())
	if err != nil {
		t.Fatalf("Datasets() error = %v", err)
	}
	if strings.Join(names, ",") != "a,b" {
		t.Fatalf("Datasets() = %v", names)
	}
	reports, err := m.PullAll(context.Background())
	if err != nil {
		t.Fatalf("PullAll() error = %v", err)
	}
	if len(reports) != 2 || reports[0].Dataset != "a" || reports[1].Dataset != "b" {
		t.Fatalf("PullAll() reports = %+v", reports)
	}
}

func TestPushUploadsAndSkipsUnchanged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "squad", "train", "state.json"), "{}")
	writeFile(t, filepath.Join(root, "squad", "train", "data.arrow"), "ARROW1")
	writeFile(t, filepath.Join(root, "squad", ".hidden", "junk"), "x")

	store := newMemoryStore()
	m, err := New(store, root, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	report, err := m.Push(context.Background(), "squad")
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if report.Transferred != 2 || report.Bytes != int64(len("{}")+len("ARROW1")) {
		t.Fatalf("Push() report = %+v", report)
	}
	keys := store.keys()
	if strings.Join(keys, ",") != "squad/train/data.arrow,squad/train/state.json" {
		t.Fatalf("uploaded keys = %v", keys)
	}
	if ct := store.contentType("squad/train/state.json"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}

	again, err := m.Push(context.Background(), "squad")
	if err != nil {
		t.Fatalf("Push() second run error = %v", err)
	}
	if again.Transferred != 0 || again.Skipped != 2 {
		t.Fatalf("Push() second report = %+v", again)
	}
}

func TestPushMissingDirectory(t *testing.T) {
	m, err := New(newMemoryStore(), t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := m.Push(context.Background(), "missing"); err == nil {
		t.Fatal("Push() expected error for missing directory")
	}
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(nil, "/tmp", Options{}); err == nil {
		t.Fatal("New() expected error for nil store")
	}
	if _, err := New(newMemoryStore(), " ", Options{}); err == nil {
		t.Fatal("New() expected error for empty root")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

type memoryObject struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	clock   time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		objects: make(map[string]memoryObject),
		clock:   time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memoryStore) put(key, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(time.Minute)
	s.objects[key] = memoryObject{data: []byte(content), lastModified: s.clock}
}

func (s *memoryStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *memoryStore) contentType(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key].contentType
}

func (s *memoryStore) Put(_ context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(time.Minute)
	s.objects[key] = memoryObject{data: data, contentType: opts.ContentType, lastModified: s.clock}
	return storage.ObjectInfo{Key: key, Size: size, LastModified: s.clock}, nil
}

func (s *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.lastModified}, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.ObjectInfo
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.lastModified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
