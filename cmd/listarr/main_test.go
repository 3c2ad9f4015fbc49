package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"

	"listarr/internal/config"
	"listarr/internal/kvstore"
	"listarr/internal/mediacache"
	"listarr/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (env *cliTestEnv) writeItems(t *testing.T, name string, records ...mediacache.Record) string {
	t.Helper()
	path := filepath.Join(env.baseDir, name)
	testsupport.WriteJSON(t, path, records)
	return path
}

func TestCLIImportListAndRemove(t *testing.T) {
	env := setupCLITestEnv(t)
	items := env.writeItems(t, "popular.json",
		testsupport.MovieRecord("heat", float64(949)),
		testsupport.MovieRecord("alien", float64(348)),
		mediacache.Record{"movie": map[string]any{"title": "no ids"}},
	)

	out, _, err := runCLI(t, []string{"cache", "import", "movies", "popular", items}, env.configPath)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Imported 2 new items into movies_popular (3 received, 2 cached)") {
		t.Fatalf("unexpected import output %q", out)
	}

	out, _, err = runCLI(t, []string{"--json", "cache", "import", "movies", "popular", items}, env.configPath)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	var result importResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode import result: %v (%q)", err, out)
	}
	if result.Added != 0 || result.Total != 2 {
		t.Fatalf("second import should be idempotent, got %+v", result)
	}

	out, _, err = runCLI(t, []string{"cache", "list", "movies", "popular"}, env.configPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Movies / Popular (2 items)") || !strings.Contains(out, "heat") || !strings.Contains(out, "TMDB") {
		t.Fatalf("unexpected list output %q", out)
	}

	out, _, err = runCLI(t, []string{"cache", "remove", "movies", "popular", "949"}, env.configPath)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !strings.Contains(out, "Removed tmdb 949 from movies_popular") {
		t.Fatalf("unexpected remove output %q", out)
	}

	out, _, err = runCLI(t, []string{"--json", "cache", "list", "movies", "popular"}, env.configPath)
	if err != nil {
		t.Fatalf("list json: %v", err)
	}
	var records []mediacache.Record
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after removal, got %d", len(records))
	}
	if _, ok := records[0][mediacache.FieldExpires]; !ok {
		t.Fatalf("listed record lacks %s: %v", mediacache.FieldExpires, records[0])
	}

	out, _, err = runCLI(t, []string{"cache", "remove", "movies", "popular", "949"}, env.configPath)
	if err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if !strings.Contains(out, "No cached item with tmdb 949") {
		t.Fatalf("unexpected second remove output %q", out)
	}
}

func TestCLIImportFromStdin(t *testing.T) {
	env := setupCLITestEnv(t)

	data, err := json.Marshal([]mediacache.Record{testsupport.ShowRecord("lost", float64(73739))})
	if err != nil {
		t.Fatal(err)
	}
	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(bytes.NewReader(data))
	cmd.SetArgs([]string{"--config", env.configPath, "cache", "import", "shows", "trending", "-"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("import from stdin: %v", err)
	}
	if !strings.Contains(stdout.String(), "Imported 1 new items into shows_trending") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestCLIPruneRemovesItemsWithoutExpiry(t *testing.T) {
	env := setupCLITestEnv(t)
	items := env.writeItems(t, "trending.json", testsupport.ShowRecord("fresh", float64(1)))
	if _, _, err := runCLI(t, []string{"cache", "import", "shows", "trending", items}, env.configPath); err != nil {
		t.Fatalf("import: %v", err)
	}

	engine, err := kvstore.OpenSQLite(env.cfg.Paths.CacheFile)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	ctx := context.Background()
	table, err := engine.Open(ctx, "shows_trending")
	if err != nil {
		t.Fatalf("Open table: %v", err)
	}
	if err := table.Set(ctx, "2", testsupport.ShowRecord("legacy", float64(2))); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := table.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, _, err := runCLI(t, []string{"--json", "cache", "prune", "--all"}, env.configPath)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	var results []pruneResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode prune: %v (%q)", err, out)
	}
	if len(results) != 1 || results[0].Partition != "shows_trending" || results[0].Pruned != 1 || results[0].Remaining != 1 {
		t.Fatalf("unexpected prune results %+v", results)
	}

	out, _, err = runCLI(t, []string{"cache", "prune", "shows", "trending"}, env.configPath)
	if err != nil {
		t.Fatalf("prune single: %v", err)
	}
	if !strings.Contains(out, "shows_trending") {
		t.Fatalf("unexpected prune output %q", out)
	}
}

func TestCLIPruneArgumentValidation(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"cache", "prune"}, env.configPath); err == nil {
		t.Fatal("expected error without partition or --all")
	}
	if _, _, err := runCLI(t, []string{"cache", "prune", "--all", "movies", "popular"}, env.configPath); err == nil {
		t.Fatal("expected error combining --all with arguments")
	}
}

func TestCLIPartitionsAndFlush(t *testing.T) {
	env := setupCLITestEnv(t)
	movies := env.writeItems(t, "movies.json", testsupport.MovieRecord("heat", float64(949)))
	shows := env.writeItems(t, "shows.json", testsupport.ShowRecord("lost", float64(73739)), testsupport.ShowRecord("fringe", float64(82066)))
	for _, args := range [][]string{
		{"cache", "import", "movies", "popular", movies},
		{"cache", "import", "shows", "trending", shows},
	} {
		if _, _, err := runCLI(t, args, env.configPath); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}

	out, _, err := runCLI(t, []string{"--json", "cache", "partitions"}, env.configPath)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	var infos []partitionInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("decode partitions: %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "movies_popular" || infos[0].Entries != 1 || infos[1].Label != "Shows / Trending" || infos[1].Entries != 2 {
		t.Fatalf("unexpected partitions %+v", infos)
	}

	out, _, err = runCLI(t, []string{"cache", "flush"}, env.configPath)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !strings.Contains(out, "Committed 2 partitions") {
		t.Fatalf("unexpected flush output %q", out)
	}
}

func TestCLIRejectsInvalidPartition(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"cache", "list", "movies", "top-rated"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "invalid cache partition") {
		t.Fatalf("expected invalid partition error, got %v", err)
	}
}

func TestCLIMutatingCommandsRespectLock(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := env.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	lock := flock.New(env.cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	t.Cleanup(func() { _ = lock.Unlock() })

	items := env.writeItems(t, "popular.json", testsupport.MovieRecord("heat", float64(949)))
	_, _, err = runCLI(t, []string{"cache", "import", "movies", "popular", items}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "cache lock") {
		t.Fatalf("expected lock error, got %v", err)
	}

	if _, _, err := runCLI(t, []string{"cache", "list", "movies", "popular"}, env.configPath); err != nil {
		t.Fatalf("read-only command should not need the lock: %v", err)
	}
}

func TestCLIWritesMetricsTextfile(t *testing.T) {
	env := setupCLITestEnv(t)
	metricsPath := filepath.Join(env.baseDir, "metrics", "listarr.prom")
	items := env.writeItems(t, "popular.json", testsupport.MovieRecord("heat", float64(949)))

	if _, _, err := runCLI(t, []string{"--metrics-file", metricsPath, "cache", "import", "movies", "popular", items}, env.configPath); err != nil {
		t.Fatalf("import: %v", err)
	}
	data, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(data), `listarr_cache_items_added_total{partition="movies_popular"} 1`) {
		t.Fatalf("metrics file missing added counter:\n%s", data)
	}
}

func TestCLIConfigCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(env.baseDir, "generated", "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected init output %q", out)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected error when config already exists")
	}

	out, _, err = runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "expires_in_days = 2") || !strings.Contains(out, env.cfg.Paths.CacheFile) {
		t.Fatalf("unexpected show output %q", out)
	}

	out, _, err = runCLI(t, []string{"config", "check"}, env.configPath)
	if err != nil {
		t.Fatalf("config check: %v\n%s", err, out)
	}
	if strings.Contains(out, "FAIL") || !strings.Contains(out, "Cache store") {
		t.Fatalf("unexpected check output %q", out)
	}
}
