package server

import (
	"fmt"
	"os"
	"path/filepath"

	"mercator-hq/admission/pkg/config"
	"mercator-hq/admission/pkg/quota/store"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// OpenStore creates the quota store selected by cfg.Backend. The Redis
// client connects lazily; readiness reports an unreachable server.
func OpenStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return store.NewMemoryStore(), nil

	case BackendRedis:
		return store.OpenRedis(store.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Timeout:  cfg.Redis.Timeout,
		}), nil

	case BackendSQLite:
		if dir := filepath.Dir(cfg.SQLite.Path); cfg.SQLite.Path != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		st, err := store.NewSQLiteStore(store.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
