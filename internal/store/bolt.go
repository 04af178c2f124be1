package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	boltAllocSize = 8 * 1024 * 1024
	boltName      = "escrow.db"
)

// BoltStore implements Store on an embedded bbolt file. bbolt runs one
// writer at a time, so Update never observes a concurrent modification.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dir.
func NewBoltStore(dir string) (*BoltStore, error) {
	if len(dir) == 0 {
		return nil, errors.New("store: bolt dir path can not be empty")
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path.Join(dir, boltName), 0660, &bolt.Options{Timeout: 2 * time.Second, InitialMmapSize: 10e6})
	if err != nil {
		if err == bolt.ErrTimeout {
			return nil, errors.New("store: cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}
	db.AllocSize = boltAllocSize

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range Buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx})
	})
}

func (s *BoltStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx})
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) bucket(b Bucket) (*bolt.Bucket, error) {
	bkt := t.tx.Bucket([]byte(b))
	if bkt == nil {
		return nil, fmt.Errorf("unknown bucket %s", b)
	}
	return bkt, nil
}

func (t *boltTx) Get(bucket Bucket, key string) ([]byte, error) {
	bkt, err := t.bucket(bucket)
	if err != nil {
		return nil, err
	}
	data := bkt.Get([]byte(key))
	if data == nil {
		return nil, ErrNotFound
	}
	// bbolt memory is only valid for the life of the transaction.
	return bytes.Clone(data), nil
}

func (t *boltTx) Put(bucket Bucket, key string, value []byte) error {
	if !t.tx.Writable() {
		return ErrReadOnly
	}
	bkt, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return bkt.Put([]byte(key), bytes.Clone(value))
}

func (t *boltTx) Insert(bucket Bucket, key string, value []byte) error {
	if _, err := t.Get(bucket, key); err == nil {
		return ErrExists
	} else if err != ErrNotFound {
		return err
	}
	return t.Put(bucket, key, value)
}

func (t *boltTx) ForEach(bucket Bucket, fn func(key string, value []byte) error) error {
	bkt, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return bkt.ForEach(func(k, v []byte) error {
		return fn(string(k), bytes.Clone(v))
	})
}
