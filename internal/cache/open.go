package cache

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ratlr/internal/config"
)

// Backend names accepted by Open.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open creates the cache described by cfg under dir.
func Open(cfg config.CacheConfig, dir string, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	name := cfg.Backend
	if name == "" {
		name = BackendBadger
	}

	var (
		backend Backend
		err     error
	)
	switch name {
	case BackendBadger:
		backend, err = OpenBadger(BadgerConfig{
			Path:       filepath.Join(dir, "badger"),
			SyncWrites: cfg.SyncWrites,
			Logger:     logger,
		})
	case BackendSQLite:
		backend, err = OpenSQLite(filepath.Join(dir, "cache.db"))
	case BackendMemory:
		backend = NewMemoryBackend()
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidBackend, name)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("cache opened", zap.String("backend", name), zap.String("dir", dir))
	return New(backend, name, logger), nil
}
