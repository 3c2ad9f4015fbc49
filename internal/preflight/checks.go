package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"listarr/internal/config"
	"listarr/internal/kvstore"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckStore opens the configured backend and lists its partitions.
// It uses a 5-second timeout so an unreachable redis fails fast.
func CheckStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Cache store"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	engine, err := kvstore.OpenEngine(checkCtx, kvstore.Options{
		Backend: cfg.Cache.Backend,
		Path:    cfg.Paths.CacheFile,
		Redis: kvstore.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		},
	})
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s open failed (%s)", cfg.Cache.Backend, summarizeStoreError(err))}
	}
	defer engine.Close()

	tables, err := engine.Tables(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s list failed (%s)", cfg.Cache.Backend, summarizeStoreError(err))}
	}
	return Result{
		Name:   name,
		Passed: true,
		Detail: fmt.Sprintf("%s at %s (%d partitions)", cfg.Cache.Backend, engine.Location(), len(tables)),
	}
}

// summarizeStoreError produces a human-readable summary for store failures.
func summarizeStoreError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (backend unreachable)"
	}
	return err.Error()
}
