package offline

import (
	"context"
	"slices"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStorage keeps buckets in process memory. Nothing expires; a bucket
// lives until it is deleted.
type MemoryStorage struct {
	mu      sync.RWMutex
	buckets map[string]*memoryCache
	order   []string
}

// NewMemoryStorage creates an empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{buckets: make(map[string]*memoryCache)}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.buckets[name]; ok {
		return c, nil
	}
	// A zero cleanup interval starts no janitor goroutine.
	c := &memoryCache{store: gocache.New(gocache.NoExpiration, 0)}
	s.buckets[name] = c
	s.order = append(s.order, name)
	return c, nil
}

func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[name]
	return ok, nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.buckets[name]
	if !ok {
		return false, nil
	}
	delete(s.buckets, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	// Handles still held by in-flight requests keep working on a detached
	// store; drop the entries so the memory is released once they finish.
	c.store.Flush()
	return true, nil
}

func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order), nil
}

func (s *MemoryStorage) Match(ctx context.Context, key string) (*Response, error) {
	s.mu.RLock()
	caches := make([]*memoryCache, 0, len(s.order))
	for _, name := range s.order {
		caches = append(caches, s.buckets[name])
	}
	s.mu.RUnlock()

	for _, c := range caches {
		if resp, err := c.Match(ctx, key); err == nil {
			return resp, nil
		}
	}
	return nil, ErrCacheMiss
}

type memoryCache struct {
	mu    sync.Mutex
	store *gocache.Cache
}

func (c *memoryCache) Match(_ context.Context, key string) (*Response, error) {
	v, ok := c.store.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return v.(*Response).Clone(), nil
}

func (c *memoryCache) Put(_ context.Context, key string, resp *Response) error {
	c.store.Set(key, resp.Clone(), gocache.NoExpiration)
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.store.Get(key); !ok {
		return false, nil
	}
	c.store.Delete(key)
	return true, nil
}

func (c *memoryCache) Keys(_ context.Context) ([]string, error) {
	items := c.store.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
