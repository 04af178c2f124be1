package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Cache is a byte cache used by CachedStore.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	Delete(ctx context.Context, keys ...string)
}

// CachedStore wraps a primary Store with a read-through cache. Writes go to
// the primary store and invalidate the written keys once the transaction
// commits; View reads check the cache first then fall back to the primary.
//
// Update transactions always read the primary so their version checks see
// committed state, never a cached copy.
//
// Every invalidation bumps an epoch. A View only fills the cache when no
// invalidation happened since it started, so bytes read before a concurrent
// commit are never written back after that commit's Delete. Other processes
// sharing the cache are only bounded by the cache TTL.
type CachedStore struct {
	primary Store
	cache   Cache

	mu    sync.RWMutex
	epoch uint64
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, cache Cache) *CachedStore {
	return &CachedStore{
		primary: primary,
		cache:   cache,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	var written []string
	err := s.primary.Update(ctx, func(tx Tx) error {
		written = written[:0]
		return fn(&trackingTx{Tx: tx, written: &written})
	})
	if err != nil {
		return err
	}
	if len(written) > 0 {
		s.mu.Lock()
		s.epoch++
		s.cache.Delete(ctx, written...)
		s.mu.Unlock()
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) View(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.RLock()
	epoch := s.epoch
	s.mu.RUnlock()
	return s.primary.View(ctx, func(tx Tx) error {
		return fn(&cachingTx{Tx: tx, ctx: ctx, store: s, epoch: epoch})
	})
}

// fill caches data unless a commit invalidated keys after epoch.
func (s *CachedStore) fill(ctx context.Context, key string, data []byte, epoch uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.epoch != epoch {
		return
	}
	s.cache.Set(ctx, key, data)
}

func (s *CachedStore) Close() error {
	return s.primary.Close()
}

type trackingTx struct {
	Tx
	written *[]string
}

func (t *trackingTx) Put(bucket Bucket, key string, value []byte) error {
	if err := t.Tx.Put(bucket, key, value); err != nil {
		return err
	}
	*t.written = append(*t.written, cacheKey(bucket, key))
	return nil
}

func (t *trackingTx) Insert(bucket Bucket, key string, value []byte) error {
	if err := t.Tx.Insert(bucket, key, value); err != nil {
		return err
	}
	*t.written = append(*t.written, cacheKey(bucket, key))
	return nil
}

type cachingTx struct {
	Tx
	ctx   context.Context
	store *CachedStore
	epoch uint64
}

func (t *cachingTx) Get(bucket Bucket, key string) ([]byte, error) {
	ck := cacheKey(bucket, key)
	if data, ok := t.store.cache.Get(t.ctx, ck); ok {
		return data, nil
	}

	// Cache miss: read from primary.
	data, err := t.Tx.Get(bucket, key)
	if err != nil {
		return nil, err
	}
	t.store.fill(t.ctx, ck, data, t.epoch)
	return data, nil
}

// --- Cache helpers ---

func cacheKey(bucket Bucket, key string) string { return fmt.Sprintf("%s:%s", bucket, key) }

func logCacheError(op, key string, err error) {
	slog.Warn("cache operation failed", "op", op, "key", key, "err", err)
}
