package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photostage_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photostage_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photostage_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photostage_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photostage_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photostage_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Extraction metrics
var (
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photostage_extractions_total",
			Help: "Total number of metadata extractions by method and status",
		},
		[]string{"method", "status"},
	)

	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photostage_extraction_duration_seconds",
			Help:    "Metadata extraction duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	ExtractionFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photostage_extraction_fallbacks_total",
			Help: "Total number of times the in-process EXIF fallback decoder ran",
		},
	)
)

// Job queue metrics
var (
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photostage_jobs_enqueued_total",
			Help: "Total number of jobs enqueued by kind",
		},
		[]string{"kind"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photostage_jobs_completed_total",
			Help: "Total number of jobs completed by kind and status",
		},
		[]string{"kind", "status"},
	)

	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photostage_job_retries_total",
			Help: "Total number of job retry dispatches by kind",
		},
		[]string{"kind"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photostage_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	JobQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photostage_job_queue_depth",
			Help: "Number of jobs currently waiting in the queue",
		},
	)
)

// Preview metrics
var (
	PreviewsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photostage_previews_generated_total",
			Help: "Total number of previews generated by source (embedded or decode)",
		},
		[]string{"source"},
	)

	PreviewVerifyRequeues = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photostage_preview_verify_requeues_total",
			Help: "Times a preview job re-queued itself after a failed write verification",
		},
	)
)

// Storage metrics
var (
	StorageOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photostage_storage_ops_total",
			Help: "Total number of storage operations by op and status",
		},
		[]string{"op", "status"},
	)

	StorageBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photostage_storage_bytes_written_total",
			Help: "Total bytes written to permanent storage",
		},
	)
)

// Ingest metrics
var (
	ImagesPromoted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photostage_images_promoted_total",
			Help: "Total number of staged images promoted to permanent storage",
		},
	)

	PromotionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photostage_promotion_failures_total",
			Help: "Total number of failed promotions",
		},
	)

	StagedImagesReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photostage_staged_images_reaped_total",
			Help: "Total number of abandoned staged images removed by the reaper",
		},
	)
)
