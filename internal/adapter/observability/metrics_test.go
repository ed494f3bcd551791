package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestActivityLifecycleMetrics(t *testing.T) {
	const activity = "extract-test"

	EnqueueActivity(activity)
	StartActivity(activity)
	CompleteActivity(activity)
	FailActivity(activity, true)
	RecordActivityRetry(activity)
	RecordActivityDLQ(activity)

	if got := counterValue(t, ActivitiesEnqueuedTotal.WithLabelValues(activity)); got != 1 {
		t.Fatalf("enqueued count = %v, want 1", got)
	}
	if got := counterValue(t, ActivitiesCompletedTotal.WithLabelValues(activity)); got != 1 {
		t.Fatalf("completed count = %v, want 1", got)
	}
	if got := counterValue(t, ActivitiesFailedTotal.WithLabelValues(activity, "true")); got != 1 {
		t.Fatalf("failed count = %v, want 1", got)
	}
	if got := counterValue(t, ActivitiesRetriedTotal.WithLabelValues(activity)); got != 1 {
		t.Fatalf("retried count = %v, want 1", got)
	}
	if got := counterValue(t, ActivitiesDLQTotal.WithLabelValues(activity)); got != 1 {
		t.Fatalf("dlq count = %v, want 1", got)
	}
}

func TestRecordWorkflowRun(t *testing.T) {
	RecordWorkflowRun("completed")
	if got := counterValue(t, WorkflowRunsTotal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("workflow run count = %v, want 1", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.With(HTTPMetricsMiddleware).Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := counterValue(t, HTTPRequestsTotal.WithLabelValues("/healthz", http.MethodGet, "OK")); got < 1 {
		t.Fatalf("http requests count = %v, want >= 1", got)
	}
}

func TestRecordCircuitBreakerStatus(t *testing.T) {
	RecordCircuitBreakerStatus("source-api", "fetch-page", 1)
	var m dto.Metric
	if err := CircuitBreakerStatus.WithLabelValues("source-api", "fetch-page").Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.GetGauge().GetValue() != 1 {
		t.Fatalf("gauge = %v, want 1", m.GetGauge().GetValue())
	}
}
