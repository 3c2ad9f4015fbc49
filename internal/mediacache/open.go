package mediacache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"listarr/internal/config"
	"listarr/internal/kvstore"
	"listarr/internal/metrics"
)

// Open builds a cache from configuration, opening the configured backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, rec *metrics.Recorder) (*Cache, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	engine, err := kvstore.OpenEngine(ctx, kvstore.Options{
		Backend: cfg.Cache.Backend,
		Path:    cfg.Paths.CacheFile,
		Redis: kvstore.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open %s cache store: %w", cfg.Cache.Backend, err)
	}
	return New(engine, Options{
		File:          engine.Location(),
		ExpiresInDays: cfg.Cache.ExpiresInDays,
		Logger:        logger,
		Metrics:       rec,
	}), nil
}
