package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"listarr/internal/kvstore"
	"listarr/internal/mediacache"
	"listarr/internal/testsupport"
)

// commitFailingEngine opens tables whose Commit always fails, leaving writes
// pending in the overlay.
type commitFailingEngine struct {
	kvstore.Engine
}

func (e commitFailingEngine) Open(ctx context.Context, name string) (kvstore.Table, error) {
	table, err := e.Engine.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return commitFailingTable{table}, nil
}

type commitFailingTable struct {
	kvstore.Table
}

func (commitFailingTable) Commit(context.Context) error {
	return errors.New("disk I/O error")
}

func openTestEngine(t *testing.T) kvstore.Engine {
	t.Helper()
	engine, err := kvstore.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return engine
}

func TestImportRecordsCountsCommittedItems(t *testing.T) {
	cache := testsupport.NewCache(t, openTestEngine(t), 2, nil, nil, nil)
	ctx := context.Background()
	records := []mediacache.Record{
		testsupport.MovieRecord("heat", float64(949)),
		testsupport.MovieRecord("heat", float64(949)),
	}

	result, err := importRecords(ctx, cache, "movies", "popular", records)
	if err != nil {
		t.Fatalf("importRecords: %v", err)
	}
	if result != (importResult{Partition: "movies_popular", Received: 2, Added: 1, Total: 1}) {
		t.Fatalf("unexpected result %+v", result)
	}
	table, err := cache.Partition(ctx, "movies", "popular")
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if table.Pending() != 0 {
		t.Fatalf("expected no pending writes, got %d", table.Pending())
	}
}

func TestImportRecordsReportsFailedCommit(t *testing.T) {
	logs, logger := testsupport.NewLogRecorder()
	cache := testsupport.NewCache(t, commitFailingEngine{openTestEngine(t)}, 2, nil, logger, nil)

	result, err := importRecords(context.Background(), cache, "movies", "popular",
		[]mediacache.Record{testsupport.MovieRecord("heat", float64(949))})
	if err == nil || !strings.Contains(err.Error(), "commit movies_popular failed") {
		t.Fatalf("expected commit failure, got %v", err)
	}
	if result != (importResult{}) {
		t.Fatalf("expected no counts on failure, got %+v", result)
	}
	if len(logs.Find(slog.LevelError, "failed to commit cache partition")) == 0 {
		t.Fatal("expected the commit failure to be logged")
	}
}

func TestCLIListUnknownPartitionLeavesStoreUntouched(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"cache", "list", "movies", "foo"}, env.configPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "no cached items") {
		t.Fatalf("unexpected list output %q", out)
	}

	out, _, err = runCLI(t, []string{"--json", "cache", "list", "movies", "foo"}, env.configPath)
	if err != nil {
		t.Fatalf("list --json: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty JSON array, got %q", out)
	}

	out, _, err = runCLI(t, []string{"--json", "cache", "partitions"}, env.configPath)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	var infos []partitionInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("decode partitions: %v (%q)", err, out)
	}
	if len(infos) != 0 {
		t.Fatalf("listing should not create partitions, got %+v", infos)
	}
}
