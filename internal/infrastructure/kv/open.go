package kv

import (
	"context"
	"fmt"
	"path/filepath"

	"expensync/internal/infrastructure/redisstore"
	"expensync/internal/infrastructure/sqldb"
	"expensync/internal/shared/config"
)

// Open builds the backend selected by STORAGE_BACKEND.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil

	case config.BackendFile:
		return NewFileStore(cfg.Storage.Path)

	case config.BackendSQLite:
		db, err := sqldb.OpenSQLite(filepath.Join(cfg.Storage.Path, "expensync.db"))
		if err != nil {
			return nil, err
		}
		store, err := sqldb.NewKVStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return store, nil

	case config.BackendPostgres:
		db, err := sqldb.OpenPostgres(cfg.Database.ConnectionString())
		if err != nil {
			return nil, err
		}
		store, err := sqldb.NewKVStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return store, nil

	case config.BackendRedis:
		return redisstore.New(cfg.Storage.RedisURL)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

var (
	_ Store = (*sqldb.KVStore)(nil)
	_ Store = (*redisstore.Store)(nil)
)
