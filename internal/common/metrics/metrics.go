package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connector metrics

	// ConnectorEventsProcessed tracks total records processed by a connector job
	ConnectorEventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "connector",
			Name:      "events_processed_total",
			Help:      "Total records processed by a connector job",
		},
		[]string{"connector_id", "result"}, // result: delivered, dropped, failed
	)

	// ConnectorBytesProcessed tracks total payload bytes processed by a connector job
	ConnectorBytesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "connector",
			Name:      "bytes_processed_total",
			Help:      "Total payload bytes processed by a connector job",
		},
		[]string{"connector_id"},
	)

	// ConnectorErrors tracks errors encountered by pipeline stage
	ConnectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "connector",
			Name:      "errors_total",
			Help:      "Total errors encountered by a connector job, by stage",
		},
		[]string{"connector_id", "stage"}, // stage: source, decode, middleware, sink
	)

	// ConnectorLagSeconds tracks source lag behind the tip of the stream
	ConnectorLagSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "connector",
			Name:      "lag_seconds",
			Help:      "Estimated time lag between the source tip and the last record processed",
		},
		[]string{"connector_id"},
	)

	// ConnectorBatchSize tracks the size of batches flushed to sinks
	ConnectorBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowcatalyst",
			Subsystem: "connector",
			Name:      "batch_size",
			Help:      "Number of records in a flushed batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"connector_id"},
	)

	// ConnectorBatchFlushDuration tracks time spent delivering a batch to all sinks
	ConnectorBatchFlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowcatalyst",
			Subsystem: "connector",
			Name:      "batch_flush_duration_seconds",
			Help:      "Time to deliver a batch to all configured sinks",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"connector_id"},
	)

	// ConnectorCheckpointSaves tracks successful checkpoint commits
	ConnectorCheckpointSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "connector",
			Name:      "checkpoint_saves_total",
			Help:      "Total checkpoint commits by a connector job",
		},
		[]string{"connector_id"},
	)

	// ConnectorJobState tracks the lifecycle state of each connector job
	// 0=stopped, 1=starting, 2=running, 3=stopping, 4=failed
	ConnectorJobState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "connector",
			Name:      "job_state",
			Help:      "Connector job lifecycle state (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
		},
		[]string{"connector_id"},
	)

	// Schema cache metrics

	// SchemaCacheHits tracks schema cache hits
	SchemaCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "schema",
			Name:      "cache_hits_total",
			Help:      "Total schema cache hits",
		},
		[]string{"registry"},
	)

	// SchemaCacheMisses tracks schema cache misses requiring a registry fetch
	SchemaCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "schema",
			Name:      "cache_misses_total",
			Help:      "Total schema cache misses that required a registry fetch",
		},
		[]string{"registry"},
	)

	// SchemaFetchDuration tracks schema registry fetch latency
	SchemaFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowcatalyst",
			Subsystem: "schema",
			Name:      "fetch_duration_seconds",
			Help:      "Time to fetch a schema from the registry",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"registry"},
	)

	// Middleware metrics

	// MiddlewareHTTPRequests tracks HTTP requests made by the HTTP middleware/sink
	MiddlewareHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "middleware",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests made by the HTTP middleware or sink",
		},
		[]string{"connector_id", "status_code"},
	)

	// MiddlewareHTTPDuration tracks HTTP call duration for the HTTP middleware/sink
	MiddlewareHTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowcatalyst",
			Subsystem: "middleware",
			Name:      "http_duration_seconds",
			Help:      "HTTP request duration for the HTTP middleware or sink",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"connector_id"},
	)

	// MiddlewareCircuitBreakerState tracks circuit breaker state per target
	// 0 = closed (healthy), 1 = open (tripped), 2 = half-open (testing)
	MiddlewareCircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "middleware",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"connector_id"},
	)

	// MiddlewareCircuitBreakerTrips tracks circuit breaker trip events
	MiddlewareCircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "middleware",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total circuit breaker trip events",
		},
		[]string{"connector_id"},
	)

	// MiddlewareScriptDuration tracks script middleware execution duration
	MiddlewareScriptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowcatalyst",
			Subsystem: "middleware",
			Name:      "script_duration_seconds",
			Help:      "Time to execute a script middleware invocation",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"connector_id"},
	)

	// MiddlewareScriptErrors tracks script middleware failures (compile or runtime)
	MiddlewareScriptErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "middleware",
			Name:      "script_errors_total",
			Help:      "Total script middleware compile or runtime errors",
		},
		[]string{"connector_id", "reason"}, // reason: compile, timeout, budget, runtime
	)

	// HTTP API metrics (management/health/metrics surface)

	// HTTPRequestsTotal tracks HTTP API requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP API request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowcatalyst",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP API request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPActiveConnections tracks active HTTP connections
	HTTPActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "http",
			Name:      "active_connections",
			Help:      "Number of active HTTP connections",
		},
	)
)

// CircuitBreakerState constants
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)

// JobState constants, mirrored as a gauge value on ConnectorJobState
const (
	JobStateStopped  = 0
	JobStateStarting = 1
	JobStateRunning  = 2
	JobStateStopping = 3
	JobStateFailed   = 4
)
