package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/hearth/internal/cache"
	"github.com/phrazzld/hearth/internal/config"
	"github.com/phrazzld/hearth/internal/platform/postgres"
	"github.com/phrazzld/hearth/internal/platform/sqlite"
	"github.com/phrazzld/hearth/internal/remote"
)

// Remote drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Open builds an engine from configuration, opening the remote store and the
// local cache it names. The returned close function releases them and must
// be called after Stop.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts.Logger = logger

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	c, closeCache, err := OpenCache(cfg.Cache)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeCache)
	opts.Cache = c

	rs, closeRemote, err := OpenRemote(ctx, cfg.Remote, logger)
	if err != nil {
		_ = closeAll()
		return nil, nil, err
	}
	closers = append(closers, closeRemote)
	opts.Remote = rs

	e, err := New(opts)
	if err != nil {
		_ = closeAll()
		return nil, nil, err
	}
	return e, closeAll, nil
}

// OpenCache opens the SQLite cache at cfg.Path, or an in-memory cache when
// no path is set.
func OpenCache(cfg config.CacheConfig) (cache.Cache, func() error, error) {
	if cfg.Path == "" {
		return cache.NewMemory(), func() error { return nil }, nil
	}
	c, err := sqlite.Open(cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return c, c.Close, nil
}

// OpenRemote connects to the configured remote document store.
func OpenRemote(ctx context.Context, cfg config.RemoteConfig, logger *slog.Logger) (remote.Store, func() error, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return remote.NewMemoryStore(), func() error { return nil }, nil
	case DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.URL, postgres.DefaultPoolConfig())
		if err != nil {
			return nil, nil, err
		}
		ds := postgres.NewDocumentStore(pool, postgres.DefaultFeedConfig(), logger)
		return ds, func() error {
			ds.Close()
			pool.Close()
			return nil
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown remote driver %q", cfg.Driver)
}
