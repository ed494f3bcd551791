// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for distributed tracing and
// Prometheus for metrics collection across the extract/transform/load
// pipeline and the workflow driver that sequences it.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts requests to the ambient health/metrics
	// mux by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests to the ambient mux",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// SourceAPIRequestsTotal counts requests to the source API by
	// resource and outcome.
	SourceAPIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_api_requests_total",
			Help: "Total number of requests issued to the source API",
		},
		[]string{"resource", "outcome"},
	)
	// SourceAPIRequestDuration records source API request durations.
	SourceAPIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_api_request_duration_seconds",
			Help:    "Source API request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"resource"},
	)

	// ExtractPagesFetchedTotal counts pages fetched per resource.
	ExtractPagesFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extract_pages_fetched_total",
			Help: "Total number of pages fetched per resource during extract",
		},
		[]string{"resource"},
	)
	// ExtractRowsWrittenTotal counts spill rows written per resource.
	ExtractRowsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extract_rows_written_total",
			Help: "Total number of raw rows written to the spill file per resource",
		},
		[]string{"resource"},
	)
	// TransformRowsAggregatedTotal counts rows consumed by the aggregator.
	TransformRowsAggregatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transform_rows_aggregated_total",
			Help: "Total number of raw rows consumed by the aggregator per resource",
		},
		[]string{"resource"},
	)
	// TransformDuration records the wall-clock time of a transform run.
	TransformDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transform_duration_seconds",
			Help:    "Duration of a full transform activity run",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
	)

	// LoaderBatchDuration records per-table batch upsert latency.
	LoaderBatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loader_batch_duration_seconds",
			Help:    "Duration of a single batched upsert",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"table"},
	)
	// LoaderRowsUpsertedTotal counts rows upserted per table.
	LoaderRowsUpsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loader_rows_upserted_total",
			Help: "Total number of rows upserted per analytics table",
		},
		[]string{"table"},
	)

	// ActivitiesEnqueuedTotal counts activity tasks enqueued by name.
	ActivitiesEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activities_enqueued_total",
			Help: "Total number of activity tasks enqueued",
		},
		[]string{"activity"},
	)
	// ActivitiesRunning is a gauge of activities currently executing.
	ActivitiesRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "activities_running",
			Help: "Number of activities currently executing",
		},
		[]string{"activity"},
	)
	// ActivitiesCompletedTotal counts activities completed by name.
	ActivitiesCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activities_completed_total",
			Help: "Total number of activities completed",
		},
		[]string{"activity"},
	)
	// ActivitiesFailedTotal counts activities failed by name and whether
	// the failure was non-retryable.
	ActivitiesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activities_failed_total",
			Help: "Total number of activities failed",
		},
		[]string{"activity", "retryable"},
	)
	// ActivitiesRetriedTotal counts activity retry attempts.
	ActivitiesRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activities_retried_total",
			Help: "Total number of activity retry attempts",
		},
		[]string{"activity"},
	)
	// ActivitiesDLQTotal counts activities moved to the dead-letter queue.
	ActivitiesDLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activities_dlq_total",
			Help: "Total number of activities moved to the dead-letter queue",
		},
		[]string{"activity"},
	)
	// WorkflowRunsTotal counts completed workflow runs by final status.
	WorkflowRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_runs_total",
			Help: "Total number of workflow runs by final status",
		},
		[]string{"status"},
	)

	// CircuitBreakerStatus tracks circuit breaker state for pooled
	// clients (0=closed, 1=open, 2=half-open).
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(SourceAPIRequestsTotal)
	prometheus.MustRegister(SourceAPIRequestDuration)
	prometheus.MustRegister(ExtractPagesFetchedTotal)
	prometheus.MustRegister(ExtractRowsWrittenTotal)
	prometheus.MustRegister(TransformRowsAggregatedTotal)
	prometheus.MustRegister(TransformDuration)
	prometheus.MustRegister(LoaderBatchDuration)
	prometheus.MustRegister(LoaderRowsUpsertedTotal)
	prometheus.MustRegister(ActivitiesEnqueuedTotal)
	prometheus.MustRegister(ActivitiesRunning)
	prometheus.MustRegister(ActivitiesCompletedTotal)
	prometheus.MustRegister(ActivitiesFailedTotal)
	prometheus.MustRegister(ActivitiesRetriedTotal)
	prometheus.MustRegister(ActivitiesDLQTotal)
	prometheus.MustRegister(WorkflowRunsTotal)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request to
// the ambient mux.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueActivity increments the enqueued-activities counter.
func EnqueueActivity(activity string) {
	ActivitiesEnqueuedTotal.WithLabelValues(activity).Inc()
}

// StartActivity increments the running-activities gauge.
func StartActivity(activity string) {
	ActivitiesRunning.WithLabelValues(activity).Inc()
}

// CompleteActivity marks an activity complete.
func CompleteActivity(activity string) {
	ActivitiesRunning.WithLabelValues(activity).Dec()
	ActivitiesCompletedTotal.WithLabelValues(activity).Inc()
}

// FailActivity marks an activity failed, tagging whether it was
// non-retryable.
func FailActivity(activity string, retryable bool) {
	ActivitiesRunning.WithLabelValues(activity).Dec()
	label := "true"
	if !retryable {
		label = "false"
	}
	ActivitiesFailedTotal.WithLabelValues(activity, label).Inc()
}

// RecordActivityRetry records one retry attempt for an activity.
func RecordActivityRetry(activity string) {
	ActivitiesRetriedTotal.WithLabelValues(activity).Inc()
}

// RecordActivityDLQ records an activity being moved to the DLQ.
func RecordActivityDLQ(activity string) {
	ActivitiesDLQTotal.WithLabelValues(activity).Inc()
}

// RecordWorkflowRun records the final status of a workflow run.
func RecordWorkflowRun(status string) {
	WorkflowRunsTotal.WithLabelValues(status).Inc()
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
