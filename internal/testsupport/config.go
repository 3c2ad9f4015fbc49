package testsupport

import (
	"path/filepath"
	"testing"

	"listarr/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.CacheFile = filepath.Join(base, "data", "cache.db")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackend selects the storage backend. The bolt backend gets its own
// file name so tests never mix formats in one path.
func WithBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.Backend = backend
		if backend == "bolt" {
			b.cfg.Paths.CacheFile = filepath.Join(b.baseDir, "data", "cache.bolt")
		}
	}
}

// WithRedis points the config at a redis server, typically miniredis.
func WithRedis(addr string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.Backend = "redis"
		b.cfg.Redis.Addr = addr
	}
}

// WithExpiresInDays overrides the retention window.
func WithExpiresInDays(days int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Cache.ExpiresInDays = days
	}
}

// WithMetricsTextfile enables the Prometheus textfile export under the base dir.
func WithMetricsTextfile(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Metrics.Textfile = filepath.Join(b.baseDir, name)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
