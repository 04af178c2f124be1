package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Update uses optimistic concurrency: the transaction function runs without
// holding the store lock, every read records the version it saw, and the
// commit re-checks those versions under the lock. Calls touching disjoint
// records never conflict.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]memRecord
}

type recordKey struct {
	bucket Bucket
	key    string
}

type memRecord struct {
	data    []byte
	version uint64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[recordKey]memRecord),
	}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		store:  s,
		reads:  make(map[recordKey]uint64),
		writes: make(map[recordKey][]byte),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{store: s, readOnly: true})
}

func (s *MemoryStore) Close() error { return nil }

// memTx buffers writes until commit.
type memTx struct {
	store    *MemoryStore
	readOnly bool // View: store lock already held
	reads    map[recordKey]uint64
	writes   map[recordKey][]byte
	order    []recordKey
}

func (t *memTx) committed(k recordKey) (memRecord, bool) {
	if t.readOnly {
		r, ok := t.store.records[k]
		return r, ok
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	r, ok := t.store.records[k]
	return r, ok
}

func (t *memTx) observe(k recordKey) (memRecord, bool) {
	r, ok := t.committed(k)
	if !t.readOnly {
		if _, seen := t.reads[k]; !seen {
			t.reads[k] = r.version // zero when absent
		}
	}
	return r, ok
}

func (t *memTx) Get(bucket Bucket, key string) ([]byte, error) {
	if !validBucket(bucket) {
		return nil, fmt.Errorf("unknown bucket %s", bucket)
	}
	k := recordKey{bucket, key}
	if data, ok := t.writes[k]; ok {
		return bytes.Clone(data), nil
	}
	r, ok := t.observe(k)
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(r.data), nil
}

func (t *memTx) Put(bucket Bucket, key string, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if !validBucket(bucket) {
		return fmt.Errorf("unknown bucket %s", bucket)
	}
	k := recordKey{bucket, key}
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = bytes.Clone(value)
	return nil
}

func (t *memTx) Insert(bucket Bucket, key string, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if _, err := t.Get(bucket, key); err == nil {
		return ErrExists
	} else if err != ErrNotFound {
		return err
	}
	return t.Put(bucket, key, value)
}

func (t *memTx) ForEach(bucket Bucket, fn func(key string, value []byte) error) error {
	if !validBucket(bucket) {
		return fmt.Errorf("unknown bucket %s", bucket)
	}
	keys := t.keys(bucket)
	for _, key := range keys {
		data, err := t.Get(bucket, key)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(key, data); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) keys(bucket Bucket) []string {
	seen := make(map[string]bool)
	collect := func() {
		for k := range t.store.records {
			if k.bucket == bucket {
				seen[k.key] = true
			}
		}
	}
	if t.readOnly {
		collect()
	} else {
		t.store.mu.RLock()
		collect()
		t.store.mu.RUnlock()
	}
	for k := range t.writes {
		if k.bucket == bucket {
			seen[k.key] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *memTx) commit() error {
	if len(t.writes) == 0 {
		return nil
	}
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, seen := range t.reads {
		if s.records[k].version != seen {
			return fmt.Errorf("%s/%s: %w", k.bucket, k.key, ErrConflict)
		}
	}
	for _, k := range t.order {
		// Blind writes still must not clobber a record created meanwhile.
		if _, read := t.reads[k]; !read {
			if _, exists := s.records[k]; exists {
				return fmt.Errorf("%s/%s: %w", k.bucket, k.key, ErrConflict)
			}
		}
	}
	for _, k := range t.order {
		s.records[k] = memRecord{data: t.writes[k], version: s.records[k].version + 1}
	}
	return nil
}
