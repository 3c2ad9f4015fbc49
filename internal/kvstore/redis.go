package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "listarr"

// RedisEngine stores every table as a Redis hash. A set at <prefix>:tables
// records which tables exist. Commits run inside MULTI/EXEC.
type RedisEngine struct {
	client *redis.Client
	prefix string
	owned  bool
	closed atomic.Bool
}

// RedisOptions configures OpenRedis.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// OpenRedis connects to Redis and verifies the connection with PING.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisEngine, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ensureContext(ctx)).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	engine := NewRedisEngine(client, opts.KeyPrefix)
	engine.owned = true
	return engine, nil
}

// NewRedisEngine wraps an existing client. The caller keeps ownership of the
// client; Close does not close it.
func NewRedisEngine(client *redis.Client, prefix string) *RedisEngine {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisEngine{client: client, prefix: prefix}
}

func (e *RedisEngine) Open(ctx context.Context, name string) (Table, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if err := ValidateTableName(name); err != nil {
		return nil, err
	}
	if err := e.client.SAdd(ensureContext(ctx), e.registryKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("redis register table %s: %w", name, err)
	}
	return newBufferedTable(name, &redisTable{client: e.client, key: e.tableKey(name)}, e.guard), nil
}

func (e *RedisEngine) Tables(ctx context.Context) ([]string, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	names, err := e.client.SMembers(ensureContext(ctx), e.registryKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list tables: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (e *RedisEngine) Location() string {
	return e.client.Options().Addr + "/" + e.prefix
}

func (e *RedisEngine) Close() error {
	if e == nil || e.closed.Swap(true) {
		return nil
	}
	if e.owned {
		return e.client.Close()
	}
	return nil
}

func (e *RedisEngine) guard() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (e *RedisEngine) registryKey() string {
	return e.prefix + ":tables"
}

func (e *RedisEngine) tableKey(name string) string {
	return e.prefix + ":table:" + name
}

type redisTable struct {
	client *redis.Client
	key    string
}

func (t *redisTable) load(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := t.client.HGet(ensureContext(ctx), t.key, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis hget: %w", err)
	}
	return data, true, nil
}

// scan yields fields sorted by key; Redis hashes carry no insertion order.
func (t *redisTable) scan(ctx context.Context, fn func(key string, value []byte) error) error {
	fields, err := t.client.HGetAll(ensureContext(ctx), t.key).Result()
	if err != nil {
		return fmt.Errorf("redis hgetall: %w", err)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, []byte(fields[k])); err != nil {
			return err
		}
	}
	return nil
}

func (t *redisTable) apply(ctx context.Context, changes []change) error {
	ctx = ensureContext(ctx)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, c := range changes {
			if c.deleted {
				pipe.HDel(ctx, t.key, c.key)
			} else {
				pipe.HSet(ctx, t.key, c.key, c.value)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis exec: %w", err)
	}
	return nil
}
