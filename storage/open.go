package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chhz0/taskd/config"
)

// Open builds the configured backend, wrapped in a read cache when enabled.
func Open(ctx context.Context, cfg config.Storage, log zerolog.Logger) (Storage, error) {
	var (
		s   Storage
		err error
	)
	switch cfg.Backend {
	case "memory":
		s = NewMemoryStorage()
	case "bolt":
		s, err = NewBoltStorage(cfg.Path)
	case "sqlite":
		s, err = NewSQLiteStorage(cfg.Path)
	case "redis":
		rs := NewRedisStorage(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err = rs.Ping(ctx); err != nil {
			_ = rs.Close()
		}
		s = rs
	case "postgres":
		s, err = NewPostgresStorage(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Backend, err)
	}

	if cfg.Cache.Enabled {
		cached, err := NewCachedStorage(s, cfg.Cache.MaxCostBytes, cfg.Cache.TTL)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("create cache: %w", err)
		}
		s = cached
	}
	log.Info().Str("backend", cfg.Backend).Bool("cache", cfg.Cache.Enabled).Msg("storage opened")
	return s, nil
}
