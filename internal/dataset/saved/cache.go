package saved

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/datasetviz/datasetviz/internal/observability"
)

const DefaultCacheSize = 8

// Cache keeps the most recently used loaded datasets, keyed by resolved path.
// Entries are never invalidated when files change on disk.
type Cache struct {
	mu        sync.Mutex
	capacity  int
	items     map[string]*list.Element
	evictList *list.List
	group     singleflight.Group
	opts      LoadOptions
	load      func(ctx context.Context, path string, opts LoadOptions) (*Dataset, error)
}

type entry struct {
	key   string
	value *Dataset
}

func NewCache(capacity int, opts LoadOptions) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Cache{
		capacity:  capacity,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		opts:      opts,
		load:      Load,
	}
}

// Get returns the cached dataset for path, loading it on a miss. Concurrent
// misses for the same path share one load.
func (c *Cache) Get(ctx context.Context, path string) (*Dataset, error) {
	if ds, ok := c.lookup(path); ok {
		observability.ObserveDatasetCache(true)
		return ds, nil
	}
	observability.ObserveDatasetCache(false)

	value, err, _ := c.group.Do(path, func() (any, error) {
		if ds, ok := c.lookup(path); ok {
			return ds, nil
		}
		ds, err := c.load(ctx, path, c.opts)
		if err != nil {
			return nil, err
		}
		c.add(path, ds)
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Dataset), nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

func (c *Cache) lookup(key string) (*Dataset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry).value, true
	}
	return nil, false
}

func (c *Cache) add(key string, ds *Dataset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		ent.Value.(*entry).value = ds
		return
	}
	c.items[key] = c.evictList.PushFront(&entry{key: key, value: ds})
	for c.evictList.Len() > c.capacity {
		oldest := c.evictList.Back()
		c.evictList.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
}
