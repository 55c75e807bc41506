// Package metrics registers the Prometheus collectors exposed by the
// report store: ingest throughput and drop reasons, handle-cache
// evictions, pending-map depth, updater batch/commit timing, and query
// latency by operation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReportsIngestedTotal counts reports successfully appended to the
	// task-sharded file store.
	ReportsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xtrace_reportstore_reports_ingested_total",
		Help: "Total number of reports accepted and appended to disk",
	})

	// ReportsDroppedTotal counts reports that never made it to disk,
	// broken out by the stage that rejected them.
	ReportsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtrace_reportstore_reports_dropped_total",
			Help: "Total number of reports dropped, by reason",
		},
		[]string{"reason"},
	)

	// HandleCacheEvictionsTotal counts LRU evictions of stale file
	// handles from the handle cache.
	HandleCacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xtrace_reportstore_handle_cache_evictions_total",
		Help: "Total number of file handles evicted from the LRU handle cache",
	})

	// HandleCacheOpenHandles tracks the current number of open file
	// handles held by the handle cache.
	HandleCacheOpenHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xtrace_reportstore_handle_cache_open_handles",
		Help: "Current number of open file handles in the LRU handle cache",
	})

	// PendingMapDepth tracks the current number of distinct tasks
	// awaiting an updater commit.
	PendingMapDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xtrace_reportstore_pending_map_depth",
		Help: "Current number of distinct tasks with uncommitted metadata deltas",
	})

	// UpdaterBatchSize observes the number of tasks applied per
	// updater commit.
	UpdaterBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xtrace_reportstore_updater_batch_size",
		Help:    "Number of tasks applied per updater transaction",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// UpdaterCommitDuration observes the wall-clock time spent
	// committing one updater batch to the index.
	UpdaterCommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xtrace_reportstore_updater_commit_duration_seconds",
		Help:    "Time spent committing one updater batch to the index",
		Buckets: prometheus.DefBuckets,
	})

	// UpdaterPerTaskErrorsTotal counts per-task failures absorbed
	// during a batch apply without aborting the rest of the batch.
	UpdaterPerTaskErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xtrace_reportstore_updater_per_task_errors_total",
		Help: "Total number of per-task update failures absorbed during batch apply",
	})

	// QueryDuration observes query latency by operation
	// (reports_by_task, tags_for_task, overlapping_tasks,
	// all_overlapping_tasks, list_tasks, task_summary).
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xtrace_reportstore_query_duration_seconds",
			Help:    "Query latency by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// QueryErrorsTotal counts query failures by operation.
	QueryErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xtrace_reportstore_query_errors_total",
			Help: "Total number of query failures, by operation",
		},
		[]string{"operation"},
	)

	// IndexSizeTasks tracks the current row count of the tasks table,
	// refreshed periodically by the store's metrics sampler.
	IndexSizeTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xtrace_reportstore_index_size_tasks",
		Help: "Current number of task rows in the metadata index",
	})

	// CheckpointDuration observes the time spent producing a
	// checkpoint snapshot of the index.
	CheckpointDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xtrace_reportstore_checkpoint_duration_seconds",
		Help:    "Time spent producing one index checkpoint snapshot",
		Buckets: prometheus.DefBuckets,
	})

	// ArchivedFilesTotal counts task files compressed into archival
	// storage by the checkpoint loop.
	ArchivedFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xtrace_reportstore_archived_files_total",
		Help: "Total number of idle task files compressed into archival storage",
	})

	// DiskFreeBytes tracks free space on the store's data volume, as
	// sampled by the resource guard.
	DiskFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xtrace_reportstore_disk_free_bytes",
		Help: "Free bytes on the filesystem backing the store root",
	})

	// ProcessRSSBytes tracks the process's resident set size, as
	// sampled by the resource guard.
	ProcessRSSBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xtrace_reportstore_process_rss_bytes",
		Help: "Resident set size of the report store process",
	})

	// AdminRequestDuration observes HTTP request latency on the admin
	// server, by route template and method.
	AdminRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xtrace_reportstore_admin_request_duration_seconds",
			Help:    "Admin HTTP request latency, by route template and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// RecordDrop increments the drop counter for the given reason. Reasons
// are short, stable tags; the store records "malformed" (parse failure)
// and "append_io_error" (file append failure).
func RecordDrop(reason string) {
	ReportsDroppedTotal.WithLabelValues(reason).Inc()
}

// ObserveQuery records one query operation's latency and, on failure,
// increments its error counter.
func ObserveQuery(operation string, seconds float64, err error) {
	QueryDuration.WithLabelValues(operation).Observe(seconds)
	if err != nil {
		QueryErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// Handler returns the HTTP handler serving the registered collectors
// in the Prometheus exposition format, for the admin server to mount.
func Handler() http.Handler {
	return promhttp.Handler()
}
