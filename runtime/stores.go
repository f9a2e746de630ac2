package runtime

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gagentflow/gagent/config"
	"github.com/gagentflow/gagent/store"
)

// openGorm dials the configured SQL driver and runs AutoMigrate once, so every
// backend-selection helper below shares one connection-plus-schema path.
func openGorm(cfg config.GORMConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("runtime: unknown gorm driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("runtime: open gorm: %w", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("runtime: automigrate: %w", err)
	}
	return db, nil
}

// NewStateStore builds the StateStore implementation named by cfg.Backend.
func NewStateStore[S any](cfg config.StoreConfig) (store.StateStore[S], error) {
	switch cfg.Backend {
	case "memory", "":
		return store.NewMemoryStateStore[S](), nil
	case "redis":
		client := store.NewRedisClient(store.RedisStoreConfig{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize, MinIdleConns: cfg.Redis.MinIdleConns, KeyPrefix: cfg.Redis.KeyPrefix,
		})
		return store.NewRedisStateStore[S](client, store.RedisStoreConfig{KeyPrefix: cfg.Redis.KeyPrefix}), nil
	case "gorm":
		db, err := openGorm(cfg.GORM)
		if err != nil {
			return nil, err
		}
		return store.NewGormStateStore[S](db), nil
	default:
		return nil, fmt.Errorf("runtime: unknown store backend %q", cfg.Backend)
	}
}

// NewConfigStore builds the ConfigStore implementation named by cfg.Backend.
func NewConfigStore[C any](cfg config.StoreConfig) (store.ConfigStore[C], error) {
	switch cfg.Backend {
	case "memory", "":
		return store.NewMemoryConfigStore[C](), nil
	case "redis":
		client := store.NewRedisClient(store.RedisStoreConfig{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize, MinIdleConns: cfg.Redis.MinIdleConns, KeyPrefix: cfg.Redis.KeyPrefix,
		})
		return store.NewRedisConfigStore[C](client, store.RedisStoreConfig{KeyPrefix: cfg.Redis.KeyPrefix}), nil
	case "gorm":
		db, err := openGorm(cfg.GORM)
		if err != nil {
			return nil, err
		}
		return store.NewGormConfigStore[C](db), nil
	default:
		return nil, fmt.Errorf("runtime: unknown store backend %q", cfg.Backend)
	}
}

// NewEventStore builds the EventStore implementation named by cfg.Backend. A
// kernel given an EventStore and a Reduce function replays it on activation;
// EventSourcingConfig.Enabled is not consulted.
func NewEventStore(cfg config.StoreConfig) (store.EventStore, error) {
	switch cfg.Backend {
	case "memory", "":
		return store.NewMemoryEventStore(), nil
	case "redis":
		client := store.NewRedisClient(store.RedisStoreConfig{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize, MinIdleConns: cfg.Redis.MinIdleConns, KeyPrefix: cfg.Redis.KeyPrefix,
		})
		return store.NewRedisEventStore(client, store.RedisStoreConfig{KeyPrefix: cfg.Redis.KeyPrefix}), nil
	case "gorm":
		db, err := openGorm(cfg.GORM)
		if err != nil {
			return nil, err
		}
		return store.NewGormEventStore(db), nil
	default:
		return nil, fmt.Errorf("runtime: unknown store backend %q", cfg.Backend)
	}
}
