package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteEngine stores every table as a SQLite table inside one database file.
// The table layout (key TEXT PRIMARY KEY, value BLOB holding JSON) matches the
// one used by sqlitedict, so files written by earlier tooling stay readable.
type SQLiteEngine struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

// OpenSQLite opens or creates the database file at path.
func OpenSQLite(path string) (*SQLiteEngine, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = FULL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	return &SQLiteEngine{db: db, path: path}, nil
}

// Open creates the table if needed and returns a buffered handle to it.
func (e *SQLiteEngine) Open(ctx context.Context, name string) (Table, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if err := ValidateTableName(name); err != nil {
		return nil, err
	}
	ctx = ensureContext(ctx)
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value BLOB)`, quoteIdent(name))
	if err := retryOnBusy(ctx, func() error {
		_, err := e.db.ExecContext(ctx, stmt)
		return err
	}); err != nil {
		return nil, fmt.Errorf("create table %s: %w", name, err)
	}
	return newBufferedTable(name, &sqliteTable{db: e.db, name: name}, e.guard), nil
}

// Tables lists user tables in the database file.
func (e *SQLiteEngine) Tables(ctx context.Context) ([]string, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	rows, err := e.db.QueryContext(ensureContext(ctx),
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (e *SQLiteEngine) Location() string { return e.path }

// Close closes the database. Uncommitted table writes are discarded.
func (e *SQLiteEngine) Close() error {
	if e == nil || e.db == nil || e.closed.Swap(true) {
		return nil
	}
	return e.db.Close()
}

func (e *SQLiteEngine) guard() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return nil
}

type sqliteTable struct {
	db   *sql.DB
	name string
}

func (t *sqliteTable) load(ctx context.Context, key string) ([]byte, bool, error) {
	ctx = ensureContext(ctx)
	var value []byte
	err := t.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, quoteIdent(t.name)), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (t *sqliteTable) scan(ctx context.Context, fn func(key string, value []byte) error) error {
	ctx = ensureContext(ctx)
	rows, err := t.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT key, value FROM %s ORDER BY rowid`, quoteIdent(t.name)))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (t *sqliteTable) apply(ctx context.Context, changes []change) error {
	ctx = ensureContext(ctx)
	upsert := fmt.Sprintf(`INSERT OR REPLACE INTO %s (key, value) VALUES (?, ?)`, quoteIdent(t.name))
	remove := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, quoteIdent(t.name))

	return retryOnBusy(ctx, func() error {
		tx, err := t.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, c := range changes {
			if c.deleted {
				_, err = tx.ExecContext(ctx, remove, c.key)
			} else {
				_, err = tx.ExecContext(ctx, upsert, c.key, c.value)
			}
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
