// Package cache holds the fingerprint-addressed evaluation cache shared
// across runs: a hot in-memory layer in front of a persistent Store.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sejmbot/detektor/internal/model"
)

// Store persists cache entries. Implementations must make every Save
// atomic: after a crash either all or none of the saved entries are visible.
type Store interface {
	// Load returns every persisted entry keyed by fingerprint
	Load(ctx context.Context) (map[string]model.CacheEntry, error)

	// Save inserts or replaces entries
	Save(ctx context.Context, entries []model.CacheEntry) error

	// Clear removes every entry
	Clear(ctx context.Context) error

	Close() error
}

// OpenStore creates the configured persistent store. The memory backend
// returns a nil Store.
func OpenStore(cfg model.CacheConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return nil, nil
	case "", "json":
		return NewJSONStore(cfg.Path), nil
	case "sqlite":
		return OpenSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", model.ErrConfiguration, cfg.Backend)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create cache dir: %v", model.ErrCacheIO, err)
	}
	return nil
}
