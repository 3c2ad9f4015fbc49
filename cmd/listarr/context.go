package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"listarr/internal/config"
	"listarr/internal/logging"
	"listarr/internal/mediacache"
	"listarr/internal/metrics"
)

type commandContext struct {
	configFlag  *string
	metricsFlag *string
	jsonFlag    *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	runID    string
	recorder *metrics.Recorder
}

func newCommandContext(configFlag, metricsFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		metricsFlag: metricsFlag,
		jsonFlag:    jsonFlag,
		runID:       uuid.NewString(),
		recorder:    metrics.NewRecorder(),
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) metricsPath(cfg *config.Config) string {
	if c.metricsFlag != nil {
		if path := strings.TrimSpace(*c.metricsFlag); path != "" {
			if expanded, err := config.ExpandPath(path); err == nil {
				return expanded
			}
			return path
		}
	}
	if cfg == nil {
		return ""
	}
	return cfg.Metrics.Textfile
}

func (c *commandContext) newLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	logger, closeLog, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}
	return logger.With(logging.String(logging.FieldRunID, c.runID)), closeLog, nil
}

// withCache opens the configured cache for the duration of fn. When mutate is
// set and cache.lock is enabled, the run lock is held as well.
func (c *commandContext) withCache(cmd *cobra.Command, mutate bool, fn func(context.Context, *mediacache.Cache) error) (err error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := c.newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithRunID(ctx, c.runID)

	if mutate && cfg.Cache.Lock {
		lock := flock.New(cfg.LockPath())
		ok, lockErr := lock.TryLock()
		if lockErr != nil {
			return fmt.Errorf("acquire cache lock: %w", lockErr)
		}
		if !ok {
			return fmt.Errorf("another listarr run holds the cache lock (%s)", cfg.LockPath())
		}
		defer func() {
			if unlockErr := lock.Unlock(); unlockErr != nil {
				logger.Warn("failed to release cache lock", logging.Error(unlockErr))
			}
		}()
	}

	cache, err := mediacache.Open(ctx, cfg, logger, c.recorder)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := cache.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close cache: %w", closeErr)
		}
	}()
	defer c.writeMetrics(cfg, logger)

	return fn(ctx, cache)
}

func (c *commandContext) writeMetrics(cfg *config.Config, logger *slog.Logger) {
	path := c.metricsPath(cfg)
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.Warn("failed to create metrics directory", logging.Error(err))
		return
	}
	if err := c.recorder.WriteTextfile(path); err != nil {
		logging.WarnWithContext(logger, "failed to write metrics textfile", "metrics_write_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "metrics for this run are not exported"))
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// errPartition is returned when a media/list pair does not name a partition.
func errPartition(mediaType, listType string) error {
	_, err := mediacache.PartitionName(mediaType, listType)
	if err == nil {
		err = errors.New("partition could not be opened; see log for details")
	}
	return err
}
