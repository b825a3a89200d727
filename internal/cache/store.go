package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"
)

// Store kinds accepted by OpenStore
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMinio  = "minio"
	StoreNone   = "none"
)

// ErrInvalidStore is returned for unknown store kinds
var ErrInvalidStore = errors.New("invalid cache store")

// StoreConfig selects and configures the persistent tier
type StoreConfig struct {
	Kind  string
	Path  string // sqlite database file or file store directory
	Redis RedisOptions
	Minio ObjectOptions
	TTL   time.Duration
}

// OpenStore builds the configured persistent tier. StoreNone yields a nil
// Store, which keeps the cache memory-only.
func OpenStore(ctx context.Context, fsys afero.Fs, cfg StoreConfig) (Store, error) {
	slog.Debug("opening persistent cache", "kind", cfg.Kind, "path", cfg.Path)

	switch cfg.Kind {
	case StoreSQLite, "":
		store, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoreFile:
		store, err := NewFileStore(fsys, cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoreRedis:
		opts := cfg.Redis
		if opts.TTL == 0 {
			opts.TTL = cfg.TTL
		}
		store, err := NewRedisStore(ctx, opts)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoreMinio:
		store, err := NewObjectStore(ctx, cfg.Minio)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoreNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidStore, cfg.Kind)
	}
}
