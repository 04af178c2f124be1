// Package store defines the record store behind the ledger and the escrow
// state machines. Implementations include PostgreSQL (source of truth),
// bbolt (embedded), in-memory (for testing) and a read-through cache wrapper
// backed by Redis or bigcache.
//
// Every mutating call runs inside one Update: either all of its writes
// commit or none do. Stores detect concurrent modification of anything the
// call read and fail the commit with ErrConflict instead of overwriting.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Bucket groups records of one kind.
type Bucket string

const (
	BucketAssets           Bucket = "assets"
	BucketHoldings         Bucket = "holdings"
	BucketMints            Bucket = "mints"
	BucketCurrencyAccounts Bucket = "currency_accounts"
	BucketAuctions         Bucket = "auctions"
	BucketExchanges        Bucket = "exchanges"
)

// Buckets lists every bucket a store must provide.
var Buckets = []Bucket{
	BucketAssets,
	BucketHoldings,
	BucketMints,
	BucketCurrencyAccounts,
	BucketAuctions,
	BucketExchanges,
}

var (
	ErrNotFound = errors.New("store: record not found")
	ErrExists   = errors.New("store: record already exists")
	ErrConflict = errors.New("store: concurrent modification")
	ErrReadOnly = errors.New("store: write in read-only transaction")
)

// Tx is one unit of work. Writes are visible to later reads in the same Tx
// and to nobody else until the Tx commits.
type Tx interface {
	// Get returns the record or ErrNotFound.
	Get(bucket Bucket, key string) ([]byte, error)

	// Put creates or replaces a record.
	Put(bucket Bucket, key string, value []byte) error

	// Insert creates a record, failing with ErrExists if the key is taken.
	Insert(bucket Bucket, key string, value []byte) error

	// ForEach visits every record of a bucket in key order.
	ForEach(bucket Bucket, fn func(key string, value []byte) error) error
}

// Store is the persistence interface.
type Store interface {
	// Update runs fn in a read-write transaction and commits if fn returns nil.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the underlying resources.
	Close() error
}

// --- Typed helpers ---

// Load decodes the record at key.
func Load[T any](tx Tx, bucket Bucket, key string) (*T, error) {
	data, err := tx.Get(bucket, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return &v, nil
}

// Save encodes v and writes it at key.
func Save[T any](tx Tx, bucket Bucket, key string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return tx.Put(bucket, key, data)
}

// Create encodes v and inserts it at key.
func Create[T any](tx Tx, bucket Bucket, key string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", bucket, key, err)
	}
	return tx.Insert(bucket, key, data)
}

// Each decodes every record of a bucket.
func Each[T any](tx Tx, bucket Bucket, fn func(v *T) error) error {
	return tx.ForEach(bucket, func(key string, data []byte) error {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode %s/%s: %w", bucket, key, err)
		}
		return fn(&v)
	})
}

func validBucket(b Bucket) bool {
	for _, known := range Buckets {
		if b == known {
			return true
		}
	}
	return false
}
