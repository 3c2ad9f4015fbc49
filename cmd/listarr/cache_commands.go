package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"listarr/internal/mediacache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the list cache",
	}

	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheImportCommand(ctx))
	cacheCmd.AddCommand(newCacheRemoveCommand(ctx))
	cacheCmd.AddCommand(newCachePruneCommand(ctx))
	cacheCmd.AddCommand(newCachePartitionsCommand(ctx))
	cacheCmd.AddCommand(newCacheFlushCommand(ctx))

	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <media> <list>",
		Short: "List cached items of a partition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mediaType, listType := args[0], args[1]
			name, err := mediacache.PartitionName(mediaType, listType)
			if err != nil {
				return err
			}
			return ctx.withCache(cmd, false, func(runCtx context.Context, cache *mediacache.Cache) error {
				// Opening a partition creates it, so unknown ones are not touched.
				stored, err := cache.Partitions(runCtx)
				if err != nil {
					return err
				}
				items := []mediacache.Record{}
				if slices.Contains(stored, name) {
					items = cache.CachedItems(runCtx, mediaType, listType)
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, items)
				}

				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintf(out, "%s: no cached items\n", partitionLabel(name))
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					key, title, year, expires := recordSummary(item, mediaType)
					rows = append(rows, []string{key, title, year, expires})
				}
				fmt.Fprintf(out, "%s (%d items)\n", partitionLabel(name), len(items))
				fmt.Fprintln(out, renderTable(out, []column{
					{title: strings.ToUpper(mediacache.IDScheme(mediaType)), numeric: true},
					{title: "Title"},
					{title: "Year", numeric: true},
					{title: "Expires (UTC)"},
				}, rows, nil))
				return nil
			})
		},
	}
}

type importResult struct {
	Partition string `json:"partition"`
	Received  int    `json:"received"`
	Added     int    `json:"added"`
	Total     int    `json:"total"`
}

func newCacheImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <media> <list> <file.json|->",
		Short: "Add list items from a JSON array, skipping items already cached",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			mediaType, listType := args[0], args[1]
			if _, err := mediacache.PartitionName(mediaType, listType); err != nil {
				return err
			}
			records, err := readRecords(cmd, args[2])
			if err != nil {
				return err
			}
			return ctx.withCache(cmd, true, func(runCtx context.Context, cache *mediacache.Cache) error {
				result, err := importRecords(runCtx, cache, mediaType, listType, records)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d new items into %s (%d received, %d cached)\n",
					result.Added, result.Partition, result.Received, result.Total)
				return nil
			})
		},
	}
}

// importRecords adds records to the partition and makes sure they were
// committed. Counts are only reported for persisted entries.
func importRecords(ctx context.Context, cache *mediacache.Cache, mediaType, listType string, records []mediacache.Record) (importResult, error) {
	table, err := cache.Partition(ctx, mediaType, listType)
	if err != nil {
		return importResult{}, err
	}
	before := len(cache.CachedItems(ctx, mediaType, listType))
	if !cache.AddCachedItems(ctx, mediaType, listType, records) {
		return importResult{}, errPartition(mediaType, listType)
	}
	if table.Pending() > 0 && !cache.SaveCache(ctx, mediaType, listType) {
		return importResult{}, fmt.Errorf("commit %s failed; nothing was imported, see log for details", table.Name())
	}
	total := len(cache.CachedItems(ctx, mediaType, listType))
	return importResult{Partition: table.Name(), Received: len(records), Added: total - before, Total: total}, nil
}

func readRecords(cmd *cobra.Command, source string) ([]mediacache.Record, error) {
	var reader io.Reader
	if source == "-" {
		reader = cmd.InOrStdin()
	} else {
		file, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", source, err)
		}
		defer file.Close()
		reader = file
	}

	var records []mediacache.Record
	if err := json.NewDecoder(reader).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode list items: expected a JSON array of objects: %w", err)
	}
	return records, nil
}

// idRecord builds the minimal record whose id path yields id.
func idRecord(mediaType, id string) mediacache.Record {
	var value any = id
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		value = n
	}
	return mediacache.Record{
		mediacache.IDGroup(mediaType): map[string]any{
			"ids": map[string]any{mediacache.IDScheme(mediaType): value},
		},
	}
}

func newCacheRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <media> <list> <id>",
		Short: "Remove one item by its tmdb (movies) or tvdb (shows) id",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			mediaType, listType, id := args[0], args[1], strings.TrimSpace(args[2])
			name, err := mediacache.PartitionName(mediaType, listType)
			if err != nil {
				return err
			}
			if id == "" {
				return errors.New("id must not be empty")
			}
			return ctx.withCache(cmd, true, func(runCtx context.Context, cache *mediacache.Cache) error {
				removed := cache.RemoveCachedItem(runCtx, mediaType, listType, idRecord(mediaType, id))
				if removed && !cache.SaveCache(runCtx, mediaType, listType) {
					return fmt.Errorf("commit %s failed; see log for details", name)
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, map[string]any{"partition": name, "id": id, "removed": removed})
				}
				out := cmd.OutOrStdout()
				if removed {
					fmt.Fprintf(out, "Removed %s %s from %s\n", mediacache.IDScheme(mediaType), id, name)
				} else {
					fmt.Fprintf(out, "No cached item with %s %s in %s\n", mediacache.IDScheme(mediaType), id, name)
				}
				return nil
			})
		},
	}
}

type pruneResult struct {
	Partition string `json:"partition"`
	Pruned    int    `json:"pruned"`
	Remaining int    `json:"remaining"`
}

func newCachePruneCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "prune [<media> <list>]",
		Short: "Remove expired items from one partition or, with --all, every partition",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) != 0 {
				return errors.New("--all does not take arguments")
			}
			if !all && len(args) != 2 {
				return errors.New("expected <media> <list> or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var targets []string
			if !all {
				name, err := mediacache.PartitionName(args[0], args[1])
				if err != nil {
					return err
				}
				targets = []string{name}
			}
			return ctx.withCache(cmd, true, func(runCtx context.Context, cache *mediacache.Cache) error {
				if all {
					names, err := cache.Partitions(runCtx)
					if err != nil {
						return err
					}
					targets = names
				}

				results := make([]pruneResult, 0, len(targets))
				for _, name := range targets {
					mediaType, listType, ok := mediacache.SplitPartitionName(name)
					if !ok {
						continue
					}
					items := cache.CachedItems(runCtx, mediaType, listType)
					pruned := cache.PruneExpiredCacheItems(runCtx, mediaType, listType, &items)
					results = append(results, pruneResult{Partition: name, Pruned: pruned, Remaining: len(items)})
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, results)
				}

				out := cmd.OutOrStdout()
				if len(results) == 0 {
					fmt.Fprintln(out, "No partitions to prune")
					return nil
				}
				rows := make([][]string, 0, len(results))
				var pruned, remaining int
				for _, r := range results {
					rows = append(rows, []string{r.Partition, strconv.Itoa(r.Pruned), strconv.Itoa(r.Remaining)})
					pruned += r.Pruned
					remaining += r.Remaining
				}
				var footer []string
				if len(results) > 1 {
					footer = []string{"Total", strconv.Itoa(pruned), strconv.Itoa(remaining)}
				}
				fmt.Fprintln(out, renderTable(out, []column{
					{title: "Partition"},
					{title: "Pruned", numeric: true},
					{title: "Remaining", numeric: true},
				}, rows, footer))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Prune every stored partition")
	return cmd
}

type partitionInfo struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Entries int    `json:"entries"`
}

func newCachePartitionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "partitions",
		Short: "List stored partitions with their entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(cmd, false, func(runCtx context.Context, cache *mediacache.Cache) error {
				names, err := cache.Partitions(runCtx)
				if err != nil {
					return err
				}
				infos := make([]partitionInfo, 0, len(names))
				for _, name := range names {
					info := partitionInfo{Name: name, Label: partitionLabel(name)}
					if mediaType, listType, ok := mediacache.SplitPartitionName(name); ok {
						info.Entries = len(cache.CachedItems(runCtx, mediaType, listType))
					}
					infos = append(infos, info)
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, infos)
				}

				out := cmd.OutOrStdout()
				if len(infos) == 0 {
					fmt.Fprintf(out, "No partitions stored in %s\n", cache.File())
					return nil
				}
				rows := make([][]string, 0, len(infos))
				total := 0
				for _, info := range infos {
					rows = append(rows, []string{info.Name, info.Label, strconv.Itoa(info.Entries)})
					total += info.Entries
				}
				fmt.Fprintln(out, renderTable(out, []column{
					{title: "Partition"},
					{title: "Label"},
					{title: "Entries", numeric: true},
				}, rows, []string{"Total", "", strconv.Itoa(total)}))
				return nil
			})
		},
	}
}

func newCacheFlushCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Open and commit every stored partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(cmd, true, func(runCtx context.Context, cache *mediacache.Cache) error {
				names, err := cache.Partitions(runCtx)
				if err != nil {
					return err
				}
				for _, name := range names {
					mediaType, listType, ok := mediacache.SplitPartitionName(name)
					if !ok {
						continue
					}
					if _, err := cache.Partition(runCtx, mediaType, listType); err != nil {
						return err
					}
				}
				if !cache.SaveAll(runCtx) {
					return errors.New("one or more partitions failed to commit; see log for details")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Committed %d partitions\n", len(names))
				return nil
			})
		},
	}
}
