package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrClosed is returned by operations on an engine that has been closed.
	ErrClosed = errors.New("kvstore: engine closed")
	// ErrInvalidTableName is returned when a table name is not a safe identifier.
	ErrInvalidTableName = errors.New("kvstore: invalid table name")
)

var tableNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]*$`)

// Item is a single committed or pending key/value pair.
type Item struct {
	Key   string
	Value json.RawMessage
}

// Decode unmarshals the item value into dest.
func (i Item) Decode(dest any) error {
	return json.Unmarshal(i.Value, dest)
}

// Table is a named mapping from string keys to JSON values.
type Table interface {
	Name() string
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) (bool, error)
	Contains(ctx context.Context, key string) (bool, error)
	Items(ctx context.Context) ([]Item, error)
	Pending() int
	Commit(ctx context.Context) error
	Rollback()
}

// Engine opens tables inside a single storage location.
type Engine interface {
	// Open returns the named table, creating it when it does not exist.
	Open(ctx context.Context, name string) (Table, error)
	// Tables lists the tables currently persisted, sorted by name.
	Tables(ctx context.Context) ([]string, error)
	// Location describes where the engine stores data (file path or address).
	Location() string
	Close() error
}

// ValidateTableName reports whether name can be used as a table identifier
// by every backend.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return nil
}
