package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scanner metrics
var (
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_catalog_scans_total",
			Help: "Total number of folder scans",
		},
		[]string{"mode", "status"}, // mode: "foreground", "silent"
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_catalog_scan_duration_seconds",
			Help:    "Folder scan duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScannerEntriesScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_catalog_scanner_entries_scanned_total",
			Help: "Total directory entries visited by the scanner",
		},
	)

	ScannerAssetsFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_catalog_scanner_assets_found_total",
			Help: "Total media assets emitted by the scanner",
		},
	)

	ScannerEntryErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_catalog_scanner_entry_errors_total",
			Help: "Per-entry errors skipped during scanning",
		},
	)
)

// Store metrics
var (
	StoreQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_catalog_store_queries_total",
			Help: "Total number of metadata store operations",
		},
		[]string{"operation", "status"},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_catalog_store_query_duration_seconds",
			Help:    "Metadata store operation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)
)

// Registry metrics
var (
	RegistryFolders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_catalog_registry_folders",
			Help: "Number of registered root folders",
		},
	)

	RegistryFoldersNeedingPermission = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_catalog_registry_folders_needs_permission",
			Help: "Registered folders whose access grant failed verification",
		},
	)

	RegistryWatcherEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_catalog_registry_watcher_events_total",
			Help: "Filesystem watcher events observed on registered roots",
		},
	)
)

// Thumbnail metrics
var (
	ThumbnailsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_catalog_thumbnails_generated_total",
			Help: "Thumbnails generated, by outcome",
		},
		[]string{"status"}, // "ok", "decode_error", "read_error"
	)

	ThumbnailCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_catalog_thumbnail_cache_hits_total",
			Help: "Thumbnail cache hits, by cache tier",
		},
		[]string{"tier"}, // "memory", "store"
	)

	ThumbnailCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_catalog_thumbnail_cache_misses_total",
			Help: "Thumbnail cache misses requiring generation",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_catalog_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_catalog_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_catalog_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)
