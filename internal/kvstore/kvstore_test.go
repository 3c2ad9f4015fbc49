package kvstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"listarr/internal/kvstore"
)

type engineFactory struct {
	name string
	// setup returns a function that opens a fresh engine over the same
	// underlying storage each time it is called.
	setup func(t *testing.T) func() kvstore.Engine
}

func engineFactories() []engineFactory {
	return []engineFactory{
		{
			name: "sqlite",
			setup: func(t *testing.T) func() kvstore.Engine {
				path := filepath.Join(t.TempDir(), "cache.db")
				return func() kvstore.Engine {
					engine, err := kvstore.OpenSQLite(path)
					if err != nil {
						t.Fatalf("OpenSQLite: %v", err)
					}
					return engine
				}
			},
		},
		{
			name: "bolt",
			setup: func(t *testing.T) func() kvstore.Engine {
				path := filepath.Join(t.TempDir(), "cache.bolt")
				return func() kvstore.Engine {
					engine, err := kvstore.OpenBolt(path)
					if err != nil {
						t.Fatalf("OpenBolt: %v", err)
					}
					return engine
				}
			},
		},
		{
			name: "redis",
			setup: func(t *testing.T) func() kvstore.Engine {
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("failed to start miniredis: %v", err)
				}
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				t.Cleanup(func() {
					client.Close()
					mr.Close()
				})
				return func() kvstore.Engine {
					return kvstore.NewRedisEngine(client, "test")
				}
			},
		},
	}
}

func forEachEngine(t *testing.T, fn func(t *testing.T, open func() kvstore.Engine)) {
	t.Helper()
	for _, factory := range engineFactories() {
		t.Run(factory.name, func(t *testing.T) {
			fn(t, factory.setup(t))
		})
	}
}

type payload struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
}

func TestPendingWritesVisibleBeforeCommit(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open func() kvstore.Engine) {
		ctx := context.Background()
		engine := open()
		defer engine.Close()

		table, err := engine.Open(ctx, "movies_popular")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := table.Set(ctx, "42", payload{Title: "Heat", Year: 1995}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if table.Pending() != 1 {
			t.Fatalf("Pending = %d, want 1", table.Pending())
		}

		var got payload
		found, err := table.Get(ctx, "42", &got)
		if err != nil || !found {
			t.Fatalf("Get found=%v err=%v", found, err)
		}
		if got.Title != "Heat" || got.Year != 1995 {
			t.Fatalf("unexpected payload %+v", got)
		}

		items, err := table.Items(ctx)
		if err != nil {
			t.Fatalf("Items: %v", err)
		}
		if len(items) != 1 || items[0].Key != "42" {
			t.Fatalf("unexpected items %+v", items)
		}

		table.Rollback()
		if ok, _ := table.Contains(ctx, "42"); ok {
			t.Fatal("expected rollback to discard pending write")
		}
	})
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open func() kvstore.Engine) {
		ctx := context.Background()
		engine := open()

		table, err := engine.Open(ctx, "shows_trending")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		for _, key := range []string{"1", "2", "3"} {
			if err := table.Set(ctx, key, payload{Title: "show " + key}); err != nil {
				t.Fatalf("Set %s: %v", key, err)
			}
		}
		if err := table.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if table.Pending() != 0 {
			t.Fatalf("Pending after commit = %d", table.Pending())
		}
		// Uncommitted write must not survive the reopen.
		if err := table.Set(ctx, "4", payload{Title: "lost"}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := engine.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		reopened := open()
		defer reopened.Close()
		table, err = reopened.Open(ctx, "shows_trending")
		if err != nil {
			t.Fatalf("reopen table: %v", err)
		}
		items, err := table.Items(ctx)
		if err != nil {
			t.Fatalf("Items: %v", err)
		}
		keys := make([]string, 0, len(items))
		for _, item := range items {
			keys = append(keys, item.Key)
		}
		sort.Strings(keys)
		if len(keys) != 3 || keys[0] != "1" || keys[2] != "3" {
			t.Fatalf("unexpected keys after reopen: %v", keys)
		}

		var got payload
		if err := items[0].Decode(&got); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Title == "" {
			t.Fatal("expected decoded title")
		}
	})
}

func TestDeleteReportsPresence(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open func() kvstore.Engine) {
		ctx := context.Background()
		engine := open()
		defer engine.Close()

		table, err := engine.Open(ctx, "movies_trending")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := table.Set(ctx, "7", payload{Title: "Se7en"}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := table.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}

		removed, err := table.Delete(ctx, "7")
		if err != nil || !removed {
			t.Fatalf("Delete existing removed=%v err=%v", removed, err)
		}
		removed, err = table.Delete(ctx, "7")
		if err != nil || removed {
			t.Fatalf("Delete twice removed=%v err=%v", removed, err)
		}
		removed, err = table.Delete(ctx, "missing")
		if err != nil || removed {
			t.Fatalf("Delete missing removed=%v err=%v", removed, err)
		}

		items, err := table.Items(ctx)
		if err != nil {
			t.Fatalf("Items: %v", err)
		}
		if len(items) != 0 {
			t.Fatalf("expected pending delete to hide item, got %+v", items)
		}
		if err := table.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if ok, _ := table.Contains(ctx, "7"); ok {
			t.Fatal("expected key to be gone after commit")
		}
	})
}

func TestPendingOverwriteKeepsPosition(t *testing.T) {
	ctx := context.Background()
	engine, err := kvstore.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer engine.Close()

	table, err := engine.Open(ctx, "movies_popular")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, key := range []string{"b", "a", "c"} {
		if err := table.Set(ctx, key, payload{Title: key}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if err := table.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := table.Set(ctx, "a", payload{Title: "updated"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := table.Set(ctx, "d", payload{Title: "d"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	items, err := table.Items(ctx)
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	want := []string{"b", "a", "c", "d"}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d", len(items), len(want))
	}
	for i, key := range want {
		if items[i].Key != key {
			t.Fatalf("items[%d] = %q, want %q", i, items[i].Key, key)
		}
	}
	var updated payload
	if err := items[1].Decode(&updated); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if updated.Title != "updated" {
		t.Fatalf("expected pending value to shadow committed value, got %q", updated.Title)
	}
}

func TestTablesListsOpenedTables(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open func() kvstore.Engine) {
		ctx := context.Background()
		engine := open()
		defer engine.Close()

		for _, name := range []string{"shows_popular", "movies_popular"} {
			if _, err := engine.Open(ctx, name); err != nil {
				t.Fatalf("Open %s: %v", name, err)
			}
		}
		names, err := engine.Tables(ctx)
		if err != nil {
			t.Fatalf("Tables: %v", err)
		}
		if len(names) != 2 || names[0] != "movies_popular" || names[1] != "shows_popular" {
			t.Fatalf("unexpected tables %v", names)
		}
	})
}

func TestOpenRejectsUnsafeNames(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open func() kvstore.Engine) {
		engine := open()
		defer engine.Close()

		for _, name := range []string{"", "Movies", "movies; DROP TABLE x", "_hidden", "shows-popular"} {
			_, err := engine.Open(context.Background(), name)
			if !errors.Is(err, kvstore.ErrInvalidTableName) {
				t.Fatalf("Open(%q) err = %v, want ErrInvalidTableName", name, err)
			}
		}
	})
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	forEachEngine(t, func(t *testing.T, open func() kvstore.Engine) {
		ctx := context.Background()
		engine := open()
		table, err := engine.Open(ctx, "movies_popular")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := engine.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := engine.Close(); err != nil {
			t.Fatalf("second Close: %v", err)
		}
		if _, err := engine.Open(ctx, "movies_popular"); !errors.Is(err, kvstore.ErrClosed) {
			t.Fatalf("Open after close err = %v", err)
		}
		if err := table.Set(ctx, "1", payload{}); !errors.Is(err, kvstore.ErrClosed) {
			t.Fatalf("Set after close err = %v", err)
		}
	})
}

func TestOpenEngineSelectsBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sqliteEngine, err := kvstore.OpenEngine(ctx, kvstore.Options{Path: filepath.Join(dir, "a.db")})
	if err != nil {
		t.Fatalf("OpenEngine sqlite: %v", err)
	}
	defer sqliteEngine.Close()
	if _, ok := sqliteEngine.(*kvstore.SQLiteEngine); !ok {
		t.Fatalf("expected SQLiteEngine for empty backend, got %T", sqliteEngine)
	}

	boltEngine, err := kvstore.OpenEngine(ctx, kvstore.Options{Backend: "bolt", Path: filepath.Join(dir, "b.db")})
	if err != nil {
		t.Fatalf("OpenEngine bolt: %v", err)
	}
	defer boltEngine.Close()
	if _, ok := boltEngine.(*kvstore.BoltEngine); !ok {
		t.Fatalf("expected BoltEngine, got %T", boltEngine)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	redisEngine, err := kvstore.OpenEngine(ctx, kvstore.Options{
		Backend: "redis",
		Redis:   kvstore.RedisOptions{Addr: mr.Addr(), KeyPrefix: "t"},
	})
	if err != nil {
		t.Fatalf("OpenEngine redis: %v", err)
	}
	defer redisEngine.Close()
	if redisEngine.Location() != mr.Addr()+"/t" {
		t.Fatalf("unexpected redis location %q", redisEngine.Location())
	}

	if _, err := kvstore.OpenEngine(ctx, kvstore.Options{Backend: "memcached"}); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}
