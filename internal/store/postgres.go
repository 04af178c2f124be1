package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the single versioned record table.
const Schema = `CREATE TABLE IF NOT EXISTS records (
	bucket  TEXT   NOT NULL,
	key     TEXT   NOT NULL,
	version BIGINT NOT NULL,
	data    JSONB  NOT NULL,
	PRIMARY KEY (bucket, key)
)`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Every record carries a version; commits only succeed if every record the
// transaction read still has the version it saw.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the records table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(dbtx pgx.Tx) error {
		tx := &pgTx{
			ctx:    ctx,
			dbtx:   dbtx,
			reads:  make(map[recordKey]int64),
			writes: make(map[recordKey][]byte),
		}
		if err := fn(tx); err != nil {
			return err
		}
		return tx.flush()
	})
}

func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(dbtx pgx.Tx) error {
		return fn(&pgTx{ctx: ctx, dbtx: dbtx, readOnly: true})
	})
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	ctx      context.Context
	dbtx     pgx.Tx
	readOnly bool
	reads    map[recordKey]int64 // version seen, 0 when absent
	writes   map[recordKey][]byte
	order    []recordKey
}

func (t *pgTx) Get(bucket Bucket, key string) ([]byte, error) {
	k := recordKey{bucket, key}
	if data, ok := t.writes[k]; ok {
		return bytes.Clone(data), nil
	}
	var version int64
	var data []byte
	err := t.dbtx.QueryRow(t.ctx,
		`SELECT version, data FROM records WHERE bucket = $1 AND key = $2`,
		string(bucket), key).Scan(&version, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		t.observe(k, 0)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	t.observe(k, version)
	return data, nil
}

func (t *pgTx) observe(k recordKey, version int64) {
	if t.readOnly {
		return
	}
	if _, seen := t.reads[k]; !seen {
		t.reads[k] = version
	}
}

func (t *pgTx) Put(bucket Bucket, key string, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	k := recordKey{bucket, key}
	if _, ok := t.writes[k]; !ok {
		t.order = append(t.order, k)
	}
	t.writes[k] = bytes.Clone(value)
	return nil
}

func (t *pgTx) Insert(bucket Bucket, key string, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if _, err := t.Get(bucket, key); err == nil {
		return ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return t.Put(bucket, key, value)
}

func (t *pgTx) ForEach(bucket Bucket, fn func(key string, value []byte) error) error {
	rows, err := t.dbtx.Query(t.ctx,
		`SELECT key, version, data FROM records WHERE bucket = $1 ORDER BY key`, string(bucket))
	if err != nil {
		return err
	}
	type row struct {
		key     string
		version int64
		data    []byte
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.version, &r.data); err != nil {
			rows.Close()
			return err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range all {
		k := recordKey{bucket, r.key}
		data := r.data
		if pending, ok := t.writes[k]; ok {
			data = pending
		} else {
			t.observe(k, r.version)
		}
		if err := fn(r.key, data); err != nil {
			return err
		}
	}
	return nil
}

// flush writes buffered records with version checks, then re-validates the
// read set. Any mismatch aborts the surrounding database transaction.
func (t *pgTx) flush() error {
	for _, k := range t.order {
		seen, read := t.reads[k]
		data := t.writes[k]

		if !read || seen == 0 {
			tag, err := t.dbtx.Exec(t.ctx,
				`INSERT INTO records (bucket, key, version, data) VALUES ($1, $2, 1, $3)
				 ON CONFLICT (bucket, key) DO NOTHING`,
				string(k.bucket), k.key, data)
			if err != nil {
				return fmt.Errorf("insert %s/%s: %w", k.bucket, k.key, err)
			}
			if tag.RowsAffected() != 1 {
				return fmt.Errorf("%s/%s: %w", k.bucket, k.key, ErrConflict)
			}
			continue
		}

		tag, err := t.dbtx.Exec(t.ctx,
			`UPDATE records SET data = $4, version = version + 1
			 WHERE bucket = $1 AND key = $2 AND version = $3`,
			string(k.bucket), k.key, seen, data)
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", k.bucket, k.key, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("%s/%s: %w", k.bucket, k.key, ErrConflict)
		}
	}

	for k, seen := range t.reads {
		if _, written := t.writes[k]; written {
			continue
		}
		var current int64
		err := t.dbtx.QueryRow(t.ctx,
			`SELECT version FROM records WHERE bucket = $1 AND key = $2 FOR SHARE`,
			string(k.bucket), k.key).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			current = 0
		} else if err != nil {
			return fmt.Errorf("validate %s/%s: %w", k.bucket, k.key, err)
		}
		if current != seen {
			return fmt.Errorf("%s/%s: %w", k.bucket, k.key, ErrConflict)
		}
	}
	return nil
}
