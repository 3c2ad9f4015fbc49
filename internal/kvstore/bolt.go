package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltEngine stores every table as a top-level bucket of one bbolt file.
type BoltEngine struct {
	db     *bolt.DB
	path   string
	closed atomic.Bool
}

// OpenBolt opens or creates the bbolt file at path. The file is exclusively
// locked by bbolt for as long as the engine stays open.
func OpenBolt(path string) (*BoltEngine, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	return &BoltEngine{db: db, path: path}, nil
}

func (e *BoltEngine) Open(_ context.Context, name string) (Table, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if err := ValidateTableName(name); err != nil {
		return nil, err
	}
	err := e.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	return newBufferedTable(name, &boltTable{db: e.db, bucket: []byte(name)}, e.guard), nil
}

func (e *BoltEngine) Tables(_ context.Context) ([]string, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	var names []string
	err := e.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	return names, nil
}

func (e *BoltEngine) Location() string { return e.path }

func (e *BoltEngine) Close() error {
	if e == nil || e.db == nil || e.closed.Swap(true) {
		return nil
	}
	return e.db.Close()
}

func (e *BoltEngine) guard() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return nil
}

type boltTable struct {
	db     *bolt.DB
	bucket []byte
}

func (t *boltTable) load(_ context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return data, data != nil, nil
}

// scan copies the bucket before invoking fn so callers never hold a bbolt
// transaction open.
func (t *boltTable) scan(_ context.Context, fn func(key string, value []byte) error) error {
	type pair struct {
		key   string
		value []byte
	}
	var pairs []pair
	err := t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			value := make([]byte, len(v))
			copy(value, v)
			pairs = append(pairs, pair{key: string(k), value: value})
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

func (t *boltTable) apply(_ context.Context, changes []change) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(t.bucket)
		if err != nil {
			return err
		}
		for _, c := range changes {
			if c.deleted {
				err = b.Delete([]byte(c.key))
			} else {
				err = b.Put([]byte(c.key), c.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}
