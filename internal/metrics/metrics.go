// Package metrics exposes Prometheus counters for cache activity.
//
// Metrics live on a private registry owned by a Recorder rather than the
// global default registry, so every CLI run and every test starts from zero.
// Short-lived runs export the registry with WriteTextfile for the node
// exporter textfile collector.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "listarr"

// Skip reasons for ItemSkipped.
const (
	SkipDuplicate = "duplicate"
	SkipNoID      = "no_id"
	SkipStoreErr  = "store_error"
)

// Prune reasons for ItemsPruned.
const (
	PruneExpired       = "expired"
	PruneMissingExpiry = "missing_expiry"
)

// Commit statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Recorder holds the cache metrics. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	registry *prometheus.Registry

	// ItemsAddedTotal counts entries inserted by add, by partition.
	ItemsAddedTotal *prometheus.CounterVec
	// ItemsSkippedTotal counts records not inserted, by partition and reason.
	ItemsSkippedTotal *prometheus.CounterVec
	// ItemsRemovedTotal counts entries deleted by remove, by partition.
	ItemsRemovedTotal *prometheus.CounterVec
	// ItemsPrunedTotal counts entries pruned, by partition and reason.
	ItemsPrunedTotal *prometheus.CounterVec
	// CommitsTotal counts partition commits, by partition and status.
	CommitsTotal *prometheus.CounterVec
	// PartitionEntries reports the entry count last observed per partition.
	PartitionEntries *prometheus.GaugeVec
}

// NewRecorder builds a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		ItemsAddedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_items_added_total",
				Help:      "Total number of items inserted into the cache",
			},
			[]string{"partition"},
		),
		ItemsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_items_skipped_total",
				Help:      "Total number of records not inserted into the cache",
			},
			[]string{"partition", "reason"},
		),
		ItemsRemovedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_items_removed_total",
				Help:      "Total number of cache entries removed",
			},
			[]string{"partition"},
		),
		ItemsPrunedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_items_pruned_total",
				Help:      "Total number of cache entries pruned",
			},
			[]string{"partition", "reason"},
		),
		CommitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_commits_total",
				Help:      "Total number of partition commits",
			},
			[]string{"partition", "status"},
		),
		PartitionEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_partition_entries",
				Help:      "Number of entries seen in a partition on the last read",
			},
			[]string{"partition"},
		),
	}
}

func (r *Recorder) ItemsAdded(partition string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.ItemsAddedTotal.WithLabelValues(partition).Add(float64(n))
}

func (r *Recorder) ItemSkipped(partition, reason string) {
	if r == nil {
		return
	}
	r.ItemsSkippedTotal.WithLabelValues(partition, reason).Inc()
}

func (r *Recorder) ItemRemoved(partition string) {
	if r == nil {
		return
	}
	r.ItemsRemovedTotal.WithLabelValues(partition).Inc()
}

func (r *Recorder) ItemPruned(partition, reason string) {
	if r == nil {
		return
	}
	r.ItemsPrunedTotal.WithLabelValues(partition, reason).Inc()
}

func (r *Recorder) Commit(partition string, err error) {
	if r == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	r.CommitsTotal.WithLabelValues(partition, status).Inc()
}

func (r *Recorder) Entries(partition string, n int) {
	if r == nil {
		return
	}
	r.PartitionEntries.WithLabelValues(partition).Set(float64(n))
}

// Gatherer exposes the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// WriteTextfile writes the registry in text exposition format to path. An
// empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	path = strings.TrimSpace(path)
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
