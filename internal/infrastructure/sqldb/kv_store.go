package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// KVStore persists blobs in a single kv_store table. Each Set is one upsert
// statement, so a value is replaced atomically.
type KVStore struct {
	db *DB
	q  kvQueries
}

type kvQueries struct {
	create string
	get    string
	set    string
	del    string
}

var dialectQueries = map[Dialect]kvQueries{
	Postgres: {
		create: `CREATE TABLE IF NOT EXISTS kv_store (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		get: `SELECT value FROM kv_store WHERE key = $1`,
		set: `INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		del: `DELETE FROM kv_store WHERE key = $1`,
	},
	SQLite: {
		create: `CREATE TABLE IF NOT EXISTS kv_store (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		get: `SELECT value FROM kv_store WHERE key = ?`,
		set: `INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		del: `DELETE FROM kv_store WHERE key = ?`,
	},
}

// NewKVStore creates the kv_store table if needed. The store owns db.
func NewKVStore(ctx context.Context, db *DB) (*KVStore, error) {
	q, ok := dialectQueries[db.Dialect()]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect %q", db.Dialect())
	}

	if _, err := db.ExecContext(ctx, q.create); err != nil {
		return nil, fmt.Errorf("failed to create kv_store table: %w", err)
	}

	return &KVStore{db: db, q: q}, nil
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.q.get, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, s.q.set, key, value); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.q.del, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

func (s *KVStore) Close() error {
	return s.db.Close()
}
