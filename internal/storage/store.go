package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"btcwatch/internal/config"
)

var (
	// ErrNotFound is returned by Get for a key that was never written.
	ErrNotFound = errors.New("storage: key not found")
	// ErrNoChange aborts an Update without writing anything.
	ErrNoChange = errors.New("storage: no change")
	// ErrNotConfigured indicates the backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// UpdateFunc receives the current value (nil and found=false when the key is
// absent) and returns the value to store. Returning ErrNoChange, or any other
// error, leaves the key untouched and Update returns that error.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// KV is the persistent key-value contract every driver implements.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Update performs an atomic read-modify-write of key.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (KV, error) {
	logger = logger.With().Str("component", "storage").Str("driver", cfg.Driver).Logger()

	var (
		kv  KV
		err error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		kv = NewMemory()
	case "sqlite":
		kv, err = OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		var pool *pgxpool.Pool
		pool, err = NewPool(ctx, cfg)
		if err == nil {
			kv, err = NewPostgres(ctx, pool)
		}
	case "redis":
		kv, err = OpenRedis(ctx, cfg.Redis, cfg.KeyPrefix)
	default:
		err = fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug().Msg("storage opened")
	return kv, nil
}
