package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// RequestBuckets for admin actions (single queries up to bulk replaces)
	RequestBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// QueryBuckets for individual database reads
	QueryBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1}

	// RowBuckets for row counts per operation
	RowBuckets = []float64{0, 1, 10, 50, 100, 500, 1000, 2500, 5000}
)

// HTTP surface
var (
	// RequestsTotal counts admin actions by action and result (success, invalid, denied, error)
	RequestsTotal CounterVec = noopCounterVec{}

	// RequestDurationSeconds measures admin action latency
	RequestDurationSeconds HistogramVec = noopHistogramVec{}
)

// Cache
var (
	// CacheLookupsTotal counts cache lookups by group and result (hit, miss, error)
	CacheLookupsTotal CounterVec = noopCounterVec{}

	// CacheInvalidationsTotal counts group generation bumps
	CacheInvalidationsTotal CounterVec = noopCounterVec{}

	// CacheEntries tracks entries held by the in-process cache backend
	CacheEntries Gauge = NoopStat{}
)

// Search and replace
var (
	// SearchDurationSeconds measures search query latency
	SearchDurationSeconds Histogram = NoopStat{}

	// SearchRowsReturned measures rows per search page
	SearchRowsReturned Histogram = NoopStat{}

	// ReplaceRowsTotal counts replace outcomes by mode and result (updated, failed, skipped)
	ReplaceRowsTotal CounterVec = noopCounterVec{}

	// ReplaceBatchRows measures rows matched per bulk replace
	ReplaceBatchRows Histogram = NoopStat{}

	// RegexTimeoutsTotal counts regex evaluations cancelled by the deadline
	RegexTimeoutsTotal Counter = NoopStat{}
)

// Backups
var (
	// BackupsCreatedTotal counts backup revisions written
	BackupsCreatedTotal Counter = NoopStat{}

	// BackupsPrunedTotal counts revisions removed by retention or age cleanup (reason)
	BackupsPrunedTotal CounterVec = noopCounterVec{}

	// RestoresTotal counts restores by kind (revision, latest, batch) and result
	RestoresTotal CounterVec = noopCounterVec{}

	// MetaWritesTotal counts meta writes by result (committed, failed)
	MetaWritesTotal CounterVec = noopCounterVec{}
)

// Logging, publishing and maintenance
var (
	// AuditWriteFailuresTotal counts log entries that fell back to the process log
	AuditWriteFailuresTotal Counter = NoopStat{}

	// PublishedEventsTotal counts change events delivered by sink and result
	PublishedEventsTotal CounterVec = noopCounterVec{}

	// PublisherLag tracks events not yet delivered per sink
	PublisherLag GaugeVec = noopGaugeVec{}

	// CleanupDeletedTotal counts rows deleted by scheduled cleanup (revisions, logs)
	CleanupDeletedTotal CounterVec = noopCounterVec{}
)

// Database pool
var (
	// DBOpenConnections tracks open connections to the WordPress database
	DBOpenConnections Gauge = NoopStat{}

	// DBInUseConnections tracks connections currently in use
	DBInUseConnections Gauge = NoopStat{}

	// DBWaitCount tracks the total number of connections waited for
	DBWaitCount Gauge = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	RequestsTotal = NewCounterVec(
		"requests_total",
		"Admin actions by action and result",
		[]string{"action", "result"},
	)
	RequestDurationSeconds = NewHistogramVec(
		"request_duration_seconds",
		"Admin action duration in seconds",
		[]string{"action"},
		RequestBuckets,
	)

	CacheLookupsTotal = NewCounterVec(
		"cache_lookups_total",
		"Cache lookups by group and result",
		[]string{"group", "result"},
	)
	CacheInvalidationsTotal = NewCounterVec(
		"cache_invalidations_total",
		"Cache group invalidations",
		[]string{"group"},
	)
	CacheEntries = NewGauge(
		"cache_entries",
		"Entries held by the in-process cache",
	)

	SearchDurationSeconds = NewHistogram(
		"search_duration_seconds",
		"Search query duration in seconds",
		QueryBuckets,
	)
	SearchRowsReturned = NewHistogram(
		"search_rows_returned",
		"Rows returned per search page",
		RowBuckets,
	)
	ReplaceRowsTotal = NewCounterVec(
		"replace_rows_total",
		"Replace outcomes by mode and result",
		[]string{"mode", "result"},
	)
	ReplaceBatchRows = NewHistogram(
		"replace_batch_rows",
		"Rows matched per bulk replace",
		RowBuckets,
	)
	RegexTimeoutsTotal = NewCounter(
		"regex_timeouts_total",
		"Regex evaluations cancelled by the deadline",
	)

	BackupsCreatedTotal = NewCounter(
		"backups_created_total",
		"Backup revisions written",
	)
	BackupsPrunedTotal = NewCounterVec(
		"backups_pruned_total",
		"Backup revisions removed",
		[]string{"reason"},
	)
	RestoresTotal = NewCounterVec(
		"restores_total",
		"Restores by kind and result",
		[]string{"kind", "result"},
	)
	MetaWritesTotal = NewCounterVec(
		"meta_writes_total",
		"Meta value writes by result",
		[]string{"result"},
	)

	AuditWriteFailuresTotal = NewCounter(
		"audit_write_failures_total",
		"Operation log entries that could not be stored",
	)
	PublishedEventsTotal = NewCounterVec(
		"published_events_total",
		"Change events delivered by sink and result",
		[]string{"sink", "result"},
	)
	PublisherLag = NewGaugeVec(
		"publisher_lag_events",
		"Change events not yet delivered",
		[]string{"sink"},
	)
	CleanupDeletedTotal = NewCounterVec(
		"cleanup_deleted_total",
		"Rows deleted by scheduled cleanup",
		[]string{"kind"},
	)

	DBOpenConnections = NewGauge(
		"db_open_connections",
		"Open connections to the WordPress database",
	)
	DBInUseConnections = NewGauge(
		"db_in_use_connections",
		"Database connections currently in use",
	)
	DBWaitCount = NewGauge(
		"db_wait_count",
		"Total number of connections waited for",
	)
}
