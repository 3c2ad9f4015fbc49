package kvstore

import (
	"context"
	"fmt"
	"strings"
)

// Supported backend names.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// Options selects and configures a backend for OpenEngine.
type Options struct {
	Backend string
	Path    string
	Redis   RedisOptions
}

// OpenEngine opens the backend named by opts.Backend. An empty backend
// selects SQLite.
func OpenEngine(ctx context.Context, opts Options) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendSQLite:
		return OpenSQLite(opts.Path)
	case BackendBolt:
		return OpenBolt(opts.Path)
	case BackendRedis:
		return OpenRedis(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("kvstore: unsupported backend %q", opts.Backend)
	}
}
