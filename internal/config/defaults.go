package config

const (
	defaultCacheFile      = "~/.local/share/listarr/cache.db"
	defaultLogDir         = "~/.local/share/listarr/logs"
	defaultExpiresInDays  = 2
	defaultCacheBackend   = "sqlite"
	defaultRedisAddr      = "127.0.0.1:6379"
	defaultRedisKeyPrefix = "listarr"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// MaxExpiresInDays caps cache.expires_in_days at 100 years.
const MaxExpiresInDays = 36500

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CacheFile: defaultCacheFile,
			LogDir:    defaultLogDir,
		},
		Cache: Cache{
			ExpiresInDays: defaultExpiresInDays,
			Backend:       defaultCacheBackend,
			Lock:          true,
		},
		Redis: Redis{
			Addr:      defaultRedisAddr,
			KeyPrefix: defaultRedisKeyPrefix,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
