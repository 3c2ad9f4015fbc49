package mediacache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"listarr/internal/config"
	"listarr/internal/kvstore"
	"listarr/internal/logging"
	"listarr/internal/metrics"
)

// FieldExpires is the record field holding the expiry timestamp.
const FieldExpires = "cache_expires"

// ExpiryLayout is the textual format of FieldExpires, always in UTC.
const ExpiryLayout = "2006-01-02T15:04:05.000000"

const defaultExpiresInDays = 2

// ErrInvalidPartition is returned when a media or list type cannot name a
// partition.
var ErrInvalidPartition = errors.New("invalid cache partition")

var segmentPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// Record is one catalog list item as decoded from JSON.
type Record map[string]any

// Options configures a Cache.
type Options struct {
	// File describes the backing store in logs. Defaults to the engine location.
	File string
	// ExpiresInDays is the retention window applied by AddCachedItems. Values
	// below 1 fall back to 2; values above config.MaxExpiresInDays are capped.
	ExpiresInDays int
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Cache owns the partitions opened from one storage engine. Operations are
// meant to be called from a single goroutine; the mutex only protects the
// partition map.
type Cache struct {
	engine        kvstore.Engine
	file          string
	expiresInDays int
	logger        *slog.Logger
	metrics       *metrics.Recorder
	now           func() time.Time

	mu         sync.Mutex
	partitions map[string]kvstore.Table
}

// New builds a cache over engine. The cache takes ownership of engine and
// closes it in Close.
func New(engine kvstore.Engine, opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	file := strings.TrimSpace(opts.File)
	if file == "" && engine != nil {
		file = engine.Location()
	}
	days := opts.ExpiresInDays
	if days < 1 {
		days = defaultExpiresInDays
	}
	days = min(days, config.MaxExpiresInDays)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		engine:        engine,
		file:          file,
		expiresInDays: days,
		logger:        logging.NewComponentLogger(logger, "mediacache"),
		metrics:       opts.Metrics,
		now:           now,
		partitions:    make(map[string]kvstore.Table),
	}
}

// File returns the location of the backing store.
func (c *Cache) File() string { return c.file }

// ExpiresInDays returns the retention window applied to new entries.
func (c *Cache) ExpiresInDays() int { return c.expiresInDays }

// PartitionName joins mediaType and listType into a partition name.
func PartitionName(mediaType, listType string) (string, error) {
	mt := normalizeSegment(mediaType)
	lt := normalizeSegment(listType)
	if !segmentPattern.MatchString(mt) || !segmentPattern.MatchString(lt) {
		return "", fmt.Errorf("%w: media type %q, list type %q", ErrInvalidPartition, mediaType, listType)
	}
	return mt + "_" + lt, nil
}

func normalizeSegment(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Partition returns the table backing (mediaType, listType), opening and
// registering it on first access.
func (c *Cache) Partition(ctx context.Context, mediaType, listType string) (kvstore.Table, error) {
	name, err := PartitionName(mediaType, listType)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if table, ok := c.partitions[name]; ok {
		return table, nil
	}
	if c.engine == nil {
		return nil, errors.New("cache has no storage engine")
	}
	table, err := c.engine.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", name, err)
	}
	c.partitions[name] = table
	c.logger.Debug("opened cache partition",
		logging.Partition(name),
		logging.String("cache_file", c.file))
	return table, nil
}

// resolve wraps Partition with the logging shared by every public operation.
func (c *Cache) resolve(ctx context.Context, mediaType, listType string) (kvstore.Table, *slog.Logger, bool) {
	logger := logging.WithContext(ctx, c.logger)
	table, err := c.Partition(ctx, mediaType, listType)
	if err != nil {
		logging.ErrorWithContext(logger, "failed to retrieve cache partition", "cache_partition_unresolved",
			logging.String("media_type", mediaType),
			logging.String("list_type", listType),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "media and list types must be lowercase letters and digits"))
		return nil, logger, false
	}
	return table, logger.With(logging.Partition(table.Name())), true
}

// CachedItems returns every record stored in the partition.
func (c *Cache) CachedItems(ctx context.Context, mediaType, listType string) []Record {
	table, logger, ok := c.resolve(ctx, mediaType, listType)
	if !ok {
		return []Record{}
	}
	items, err := table.Items(ctx)
	if err != nil {
		logging.ErrorWithContext(logger, "failed to read cache partition", "cache_read_failed",
			logging.Error(err))
		return []Record{}
	}

	records := make([]Record, 0, len(items))
	for _, item := range items {
		var record Record
		if err := item.Decode(&record); err != nil || record == nil {
			logging.WarnWithContext(logger, "skipping undecodable cache entry", "cache_entry_corrupt",
				logging.String("key", item.Key),
				logging.Any("decode_error", err),
				logging.String(logging.FieldImpact, "entry is ignored until removed"))
			continue
		}
		records = append(records, record)
	}
	c.metrics.Entries(table.Name(), len(records))
	return records
}

// AddCachedItems inserts every record whose key is not yet in the partition.
// Existing entries are never overwritten. It reports whether the partition
// resolved, not whether anything was added.
func (c *Cache) AddCachedItems(ctx context.Context, mediaType, listType string, records []Record) bool {
	table, logger, ok := c.resolve(ctx, mediaType, listType)
	if !ok {
		return false
	}
	name := table.Name()
	expires := FormatExpiry(c.now().UTC().AddDate(0, 0, c.expiresInDays))

	added := 0
	for _, record := range records {
		key := ExtractItemKey(record, mediaType)
		if !key.Found {
			logging.ErrorWithContext(logger, "failed finding item id", "cache_item_missing_id",
				logging.String("id_scheme", key.Scheme),
				logging.JSON("item", record),
				logging.String(logging.FieldErrorHint, "item skipped; upstream record lacks the identifier"))
			c.metrics.ItemSkipped(name, metrics.SkipNoID)
			continue
		}

		exists, err := table.Contains(ctx, key.Value)
		if err != nil {
			logging.ErrorWithContext(logger, "failed checking cache for item", "cache_lookup_failed",
				logging.String(key.Scheme, key.Value),
				logging.Error(err))
			c.metrics.ItemSkipped(name, metrics.SkipStoreErr)
			continue
		}
		if exists {
			logger.Debug("item already cached",
				logging.String("id_scheme", key.Scheme),
				logging.String("item_key", key.Value))
			c.metrics.ItemSkipped(name, metrics.SkipDuplicate)
			continue
		}

		entry := make(Record, len(record)+1)
		for k, v := range record {
			entry[k] = v
		}
		entry[FieldExpires] = expires
		if err := table.Set(ctx, key.Value, entry); err != nil {
			logging.ErrorWithContext(logger, "failed storing cache item", "cache_store_failed",
				logging.String(key.Scheme, key.Value),
				logging.Error(err))
			c.metrics.ItemSkipped(name, metrics.SkipStoreErr)
			continue
		}
		added++
	}

	if added > 0 {
		_ = c.commit(ctx, table, logger)
		logger.Info("added items to cache",
			logging.String(logging.FieldEventType, "cache_items_added"),
			logging.Int("added", added),
			logging.Int("received", len(records)),
			logging.String(FieldExpires, expires))
		c.metrics.ItemsAdded(name, added)
	}
	return true
}

// RemoveCachedItem deletes the entry keyed by record's identifier. It reports
// whether an entry was removed. The change is not committed.
func (c *Cache) RemoveCachedItem(ctx context.Context, mediaType, listType string, record Record) bool {
	table, logger, ok := c.resolve(ctx, mediaType, listType)
	if !ok {
		return false
	}
	return c.remove(ctx, table, logger, mediaType, record)
}

func (c *Cache) remove(ctx context.Context, table kvstore.Table, logger *slog.Logger, mediaType string, record Record) bool {
	key := ExtractItemKey(record, mediaType)
	if !key.Found {
		logging.ErrorWithContext(logger, "failed finding item id", "cache_item_missing_id",
			logging.String("id_scheme", key.Scheme),
			logging.JSON("item", record))
		return false
	}
	removed, err := table.Delete(ctx, key.Value)
	if err != nil {
		logging.ErrorWithContext(logger, "failed removing cache item", "cache_remove_failed",
			logging.String(key.Scheme, key.Value),
			logging.Error(err))
		return false
	}
	if removed {
		logger.Debug("removed item from cache",
			logging.String("id_scheme", key.Scheme),
			logging.String("item_key", key.Value))
		c.metrics.ItemRemoved(table.Name())
	}
	return removed
}

// SaveCache commits one partition.
func (c *Cache) SaveCache(ctx context.Context, mediaType, listType string) bool {
	table, logger, ok := c.resolve(ctx, mediaType, listType)
	if !ok {
		return false
	}
	return c.commit(ctx, table, logger) == nil
}

// SaveAll commits every partition opened by this cache. Every partition is
// attempted; the result is false if any commit failed.
func (c *Cache) SaveAll(ctx context.Context) bool {
	logger := logging.WithContext(ctx, c.logger)
	ok := true
	for _, p := range c.openPartitions() {
		if err := c.commit(ctx, p.table, logger.With(logging.Partition(p.name))); err != nil {
			ok = false
		}
	}
	return ok
}

type openPartition struct {
	name  string
	table kvstore.Table
}

func (c *Cache) openPartitions() []openPartition {
	c.mu.Lock()
	defer c.mu.Unlock()
	open := make([]openPartition, 0, len(c.partitions))
	for name, table := range c.partitions {
		open = append(open, openPartition{name: name, table: table})
	}
	sort.Slice(open, func(i, j int) bool { return open[i].name < open[j].name })
	return open
}

func (c *Cache) commit(ctx context.Context, table kvstore.Table, logger *slog.Logger) error {
	pending := table.Pending()
	err := table.Commit(ctx)
	c.metrics.Commit(table.Name(), err)
	if err != nil {
		logging.ErrorWithContext(logger, "failed to commit cache partition", "cache_commit_failed",
			logging.Int("pending", pending),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the cache backend is reachable and writable"))
		return err
	}
	if pending > 0 {
		logger.Debug("committed cache partition", logging.Int("changes", pending))
	}
	return nil
}

// PruneExpiredCacheItems removes entries from items whose expiry is missing,
// unreadable or not after now, deleting them from the partition as well.
// items is replaced with the surviving records. The partition is committed
// when anything was pruned. It returns the number of pruned records.
func (c *Cache) PruneExpiredCacheItems(ctx context.Context, mediaType, listType string, items *[]Record) int {
	if items == nil || len(*items) == 0 {
		return 0
	}
	table, logger, ok := c.resolve(ctx, mediaType, listType)
	if !ok {
		return 0
	}
	name := table.Name()
	now := c.now()

	snapshot := slices.Clone(*items)
	kept := make([]Record, 0, len(snapshot))
	pruned := 0
	for _, record := range snapshot {
		reason, expired := expiryState(record, now)
		if !expired {
			kept = append(kept, record)
			continue
		}
		if reason == metrics.PruneMissingExpiry {
			logging.WarnWithContext(logger, "cache item had no usable expiry", "cache_entry_corrupt",
				logging.Any(FieldExpires, record[FieldExpires]),
				logging.String(logging.FieldImpact, "item pruned"))
		}
		c.remove(ctx, table, logger, mediaType, record)
		c.metrics.ItemPruned(name, reason)
		pruned++
	}
	*items = kept

	if pruned > 0 {
		_ = c.commit(ctx, table, logger)
		logger.Info("pruned expired cache items",
			logging.String(logging.FieldEventType, "cache_items_pruned"),
			logging.Int("pruned", pruned),
			logging.Int("remaining", len(kept)))
	}
	return pruned
}

// expiryState reports whether record is due for pruning at now, and why.
func expiryState(record Record, now time.Time) (string, bool) {
	raw, ok := record[FieldExpires].(string)
	if !ok {
		return metrics.PruneMissingExpiry, true
	}
	expires, err := ParseExpiry(raw)
	if err != nil {
		return metrics.PruneMissingExpiry, true
	}
	if now.Before(expires) {
		return "", false
	}
	return metrics.PruneExpired, true
}

// Partitions lists partitions persisted by the engine together with any
// opened by this cache, sorted by name.
func (c *Cache) Partitions(ctx context.Context) ([]string, error) {
	if c.engine == nil {
		return nil, errors.New("cache has no storage engine")
	}
	stored, err := c.engine.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	seen := make(map[string]struct{}, len(stored))
	names := make([]string, 0, len(stored))
	for _, name := range stored {
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for _, p := range c.openPartitions() {
		if _, ok := seen[p.name]; !ok {
			names = append(names, p.name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// SplitPartitionName reverses PartitionName.
func SplitPartitionName(name string) (mediaType, listType string, ok bool) {
	mediaType, listType, ok = strings.Cut(name, "_")
	if !ok || !segmentPattern.MatchString(mediaType) || !segmentPattern.MatchString(listType) {
		return "", "", false
	}
	return mediaType, listType, true
}

// Close discards uncommitted changes and closes the storage engine.
func (c *Cache) Close() error {
	for _, p := range c.openPartitions() {
		if pending := p.table.Pending(); pending > 0 {
			logging.WarnWithContext(c.logger, "discarding uncommitted cache changes", "cache_changes_discarded",
				logging.Partition(p.name),
				logging.Int("pending", pending),
				logging.String(logging.FieldImpact, "changes since the last save are lost"))
			p.table.Rollback()
		}
	}

	c.mu.Lock()
	c.partitions = make(map[string]kvstore.Table)
	c.mu.Unlock()

	if c.engine == nil {
		return nil
	}
	return c.engine.Close()
}

// FormatExpiry renders t in ExpiryLayout.
func FormatExpiry(t time.Time) string {
	return t.UTC().Format(ExpiryLayout)
}

// ParseExpiry reads a timestamp written by FormatExpiry. Values without
// fractional seconds and RFC 3339 values are accepted too.
func ParseExpiry(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{ExpiryLayout, "2006-01-02T15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse %s %q: unsupported format", FieldExpires, value)
}
