package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// change is a pending write. A deleted change removes the key on commit.
type change struct {
	key     string
	value   []byte
	deleted bool
}

// backend is the committed-state side of a table. apply must be atomic: either
// every change becomes durable or none does.
type backend interface {
	load(ctx context.Context, key string) ([]byte, bool, error)
	scan(ctx context.Context, fn func(key string, value []byte) error) error
	apply(ctx context.Context, changes []change) error
}

// bufferedTable layers uncommitted writes over a backend.
type bufferedTable struct {
	name    string
	store   backend
	guard   func() error
	pending map[string]*change
	order   []string
}

func newBufferedTable(name string, store backend, guard func() error) *bufferedTable {
	return &bufferedTable{
		name:    name,
		store:   store,
		guard:   guard,
		pending: make(map[string]*change),
	}
}

func (t *bufferedTable) Name() string { return t.name }

func (t *bufferedTable) Pending() int { return len(t.pending) }

func (t *bufferedTable) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, found, err := t.raw(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if dest == nil {
		return true, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return true, fmt.Errorf("decode %s[%s]: %w", t.name, key, err)
	}
	return true, nil
}

func (t *bufferedTable) Contains(ctx context.Context, key string) (bool, error) {
	_, found, err := t.raw(ctx, key)
	return found, err
}

func (t *bufferedTable) Set(ctx context.Context, key string, value any) error {
	if err := t.guard(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s[%s]: %w", t.name, key, err)
	}
	t.record(change{key: key, value: data})
	return nil
}

func (t *bufferedTable) Delete(ctx context.Context, key string) (bool, error) {
	_, found, err := t.raw(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	t.record(change{key: key, deleted: true})
	return true, nil
}

func (t *bufferedTable) Items(ctx context.Context) ([]Item, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(t.pending))
	seen := make(map[string]struct{}, len(t.pending))
	err := t.store.scan(ctx, func(key string, value []byte) error {
		if c, ok := t.pending[key]; ok {
			seen[key] = struct{}{}
			if c.deleted {
				return nil
			}
			value = c.value
		}
		items = append(items, Item{Key: key, Value: append(json.RawMessage(nil), value...)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.name, err)
	}
	for _, key := range t.order {
		if _, ok := seen[key]; ok {
			continue
		}
		c := t.pending[key]
		if c.deleted {
			continue
		}
		items = append(items, Item{Key: key, Value: append(json.RawMessage(nil), c.value...)})
	}
	return items, nil
}

func (t *bufferedTable) Commit(ctx context.Context) error {
	if err := t.guard(); err != nil {
		return err
	}
	if len(t.pending) == 0 {
		return nil
	}
	changes := make([]change, 0, len(t.order))
	for _, key := range t.order {
		changes = append(changes, *t.pending[key])
	}
	if err := t.store.apply(ctx, changes); err != nil {
		return fmt.Errorf("commit %s: %w", t.name, err)
	}
	t.reset()
	return nil
}

func (t *bufferedTable) Rollback() {
	t.reset()
}

func (t *bufferedTable) raw(ctx context.Context, key string) ([]byte, bool, error) {
	if err := t.guard(); err != nil {
		return nil, false, err
	}
	if c, ok := t.pending[key]; ok {
		if c.deleted {
			return nil, false, nil
		}
		return c.value, true, nil
	}
	data, found, err := t.store.load(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("load %s[%s]: %w", t.name, key, err)
	}
	return data, found, nil
}

func (t *bufferedTable) record(c change) {
	if _, ok := t.pending[c.key]; !ok {
		t.order = append(t.order, c.key)
	}
	t.pending[c.key] = &c
}

func (t *bufferedTable) reset() {
	t.pending = make(map[string]*change)
	t.order = nil
}
