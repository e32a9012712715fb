// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the danmaku pipeline:
// - Provider HTTP traffic and session health
// - Comment import throughput
// - Task engine and scheduler activity
// - Database query performance (DuckDB)
// - API endpoint latency and token validation
// - Cache efficiency and WebSocket connections

var (
	// Provider Metrics
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total number of outbound provider HTTP requests",
		},
		[]string{"provider", "result"}, // result: "success", "failure"
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Duration of outbound provider HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	ProviderSearchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_search_results",
			Help:    "Number of results returned per provider search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"provider"},
	)

	ProviderSessionRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_session_refreshes_total",
			Help: "Total number of provider session refresh attempts",
		},
		[]string{"provider", "result"},
	)

	// Import Metrics
	CommentsImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comments_imported_total",
			Help: "Total number of danmaku comments inserted into the library",
		},
		[]string{"provider"},
	)

	EpisodesImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "episodes_imported_total",
			Help: "Total number of episodes processed by import tasks",
		},
		[]string{"provider"},
	)

	ImportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "import_duration_seconds",
			Help:    "Duration of import tasks in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	ImportErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_errors_total",
			Help: "Total number of import errors by pipeline stage",
		},
		[]string{"stage"}, // "search", "episodes", "comments", "database"
	)

	// Task Engine Metrics
	TasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tasks_submitted_total",
			Help: "Total number of tasks submitted to the task engine",
		},
	)

	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_finished_total",
			Help: "Total number of tasks finished by terminal status",
		},
		[]string{"status"}, // "completed", "failed"
	)

	TaskQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "task_queue_depth",
			Help: "Current number of tasks waiting in the FIFO queue",
		},
	)

	TaskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "task_duration_seconds",
			Help:    "Wall-clock duration of task bodies in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	// Scheduler Metrics
	ScheduledJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_job_runs_total",
			Help: "Total number of scheduled job executions",
		},
		[]string{"job", "result"},
	)

	ScheduledJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduled_job_duration_seconds",
			Help:    "Duration of scheduled job executions in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"job"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	DBConnectionPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duckdb_connection_pool_size",
			Help: "Current number of database connections in use",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	TokenValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_validations_total",
			Help: "Total number of playback API token validation attempts",
		},
		[]string{"result"}, // "valid", "invalid"
	)

	UABlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ua_filter_blocks_total",
			Help: "Total number of requests rejected by the User-Agent filter",
		},
	)

	// Match Dispatcher Metrics
	MatchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "match_requests_total",
			Help: "Total number of filename match requests by outcome",
		},
		[]string{"outcome"}, // "matched", "ambiguous", "none"
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of webhook events received",
		},
		[]string{"source", "action"}, // action: "dispatched", "ignored", "rejected"
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "search", "episodes", "base_info"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of cache evictions (TTL expiry)",
		},
		[]string{"cache_type"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordProviderRequest records one outbound provider request.
func RecordProviderRequest(provider string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	ProviderRequests.WithLabelValues(provider, result).Inc()
	ProviderRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordProviderSearch records the result count of one provider search.
func RecordProviderSearch(provider string, results int) {
	ProviderSearchResults.WithLabelValues(provider).Observe(float64(results))
}

// RecordSessionRefresh records a provider session refresh attempt.
func RecordSessionRefresh(provider string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	ProviderSessionRefreshes.WithLabelValues(provider, result).Inc()
}

// RecordImport records one finished import task.
func RecordImport(provider string, episodes, comments int, duration time.Duration) {
	EpisodesImported.WithLabelValues(provider).Add(float64(episodes))
	CommentsImported.WithLabelValues(provider).Add(float64(comments))
	ImportDuration.Observe(duration.Seconds())
}

// RecordImportError records an import error at the given pipeline stage.
func RecordImportError(stage string) {
	ImportErrors.WithLabelValues(stage).Inc()
}

// RecordTaskFinished records a task reaching a terminal status.
func RecordTaskFinished(status string, duration time.Duration) {
	TasksFinished.WithLabelValues(status).Inc()
	TaskDuration.Observe(duration.Seconds())
}

// RecordScheduledJob records a scheduled job execution.
func RecordScheduledJob(job string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	ScheduledJobRuns.WithLabelValues(job, result).Inc()
	ScheduledJobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordTokenValidation records a playback token validation attempt.
func RecordTokenValidation(valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	TokenValidations.WithLabelValues(result).Inc()
}

// RecordMatch records a filename match outcome.
func RecordMatch(outcome string) {
	MatchRequests.WithLabelValues(outcome).Inc()
}

// RecordWebhookEvent records an incoming webhook event.
func RecordWebhookEvent(source, action string) {
	WebhookEvents.WithLabelValues(source, action).Inc()
}

// RecordCacheHit records a cache hit for the given cache type.
func RecordCacheHit(cacheType string) {
	CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss for the given cache type.
func RecordCacheMiss(cacheType string) {
	CacheMisses.WithLabelValues(cacheType).Inc()
}
