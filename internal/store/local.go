package store

import (
	"context"
	"errors"
	"time"

	"github.com/allegro/bigcache/v3"
)

// LocalCache implements Cache in process memory. Used when no Redis is
// configured; entries expire after the configured lifetime.
type LocalCache struct {
	cache *bigcache.BigCache
}

// NewLocalCache creates a bigcache-backed cache.
func NewLocalCache(ctx context.Context, ttl time.Duration) (*LocalCache, error) {
	cache, err := bigcache.New(ctx, bigcache.DefaultConfig(ttl))
	if err != nil {
		return nil, err
	}
	return &LocalCache{cache: cache}, nil
}

func (c *LocalCache) Get(_ context.Context, key string) ([]byte, bool) {
	data, err := c.cache.Get(key)
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			logCacheError("get", key, err)
		}
		return nil, false
	}
	return data, true
}

func (c *LocalCache) Set(_ context.Context, key string, value []byte) {
	if err := c.cache.Set(key, value); err != nil {
		logCacheError("set", key, err)
	}
}

func (c *LocalCache) Delete(_ context.Context, keys ...string) {
	for _, key := range keys {
		if err := c.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
			logCacheError("del", key, err)
		}
	}
}

// Close stops the cache's cleanup goroutine.
func (c *LocalCache) Close() error {
	return c.cache.Close()
}
