package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateRedis(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateCache() error {
	if c.Cache.ExpiresInDays < 1 {
		return errors.New("cache.expires_in_days must be at least 1")
	}
	if c.Cache.ExpiresInDays > MaxExpiresInDays {
		return fmt.Errorf("cache.expires_in_days must be at most %d", MaxExpiresInDays)
	}
	switch c.Cache.Backend {
	case "sqlite", "bolt", "redis":
	default:
		return fmt.Errorf("cache.backend: unsupported value %q (expected sqlite, bolt or redis)", c.Cache.Backend)
	}
	if c.UsesCacheFile() && strings.TrimSpace(c.Paths.CacheFile) == "" {
		return errors.New("paths.cache_file must be set")
	}
	return nil
}

func (c *Config) validateRedis() error {
	if c.Cache.Backend != "redis" {
		return nil
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr must be set when cache.backend is redis")
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
