package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"accounts/internal/core/port"
)

type entry struct {
	version int64
	value   []byte
}

type memoryRepository struct {
	// mu makes the version compare and the write in SetIfNewer one step.
	mu    sync.Mutex
	store *gocache.Cache
}

// NewMemoryRepository keeps entries in process. defaultTTL applies when
// SetIfNewer is called with ttl <= 0.
func NewMemoryRepository(defaultTTL time.Duration) port.CacheRepository {
	if defaultTTL <= 0 {
		defaultTTL = time.Minute
	}

	return &memoryRepository{store: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (c *memoryRepository) SetIfNewer(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.store.Get(key); ok && v.(entry).version >= version {
		return false, nil
	}

	buf := make([]byte, len(value))
	copy(buf, value)

	c.store.Set(key, entry{version: version, value: buf}, ttl)
	return true, nil
}

func (c *memoryRepository) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := c.store.Get(key)
	if !ok {
		return nil, port.ErrCacheMiss
	}

	return v.(entry).value, nil
}

func (c *memoryRepository) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Delete(key)
	return nil
}

func (c *memoryRepository) DeleteByPrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
		}
	}

	return nil
}

func (c *memoryRepository) Close() error {
	c.store.Flush()
	return nil
}
