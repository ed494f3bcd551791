package sourceapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prinquiel/messaging-analytics-etl/internal/adapter/httpclient"
	"github.com/prinquiel/messaging-analytics-etl/internal/config"
	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

func newTestPool() *httpclient.Pool {
	return httpclient.NewPool(config.Config{
		RequestTimeout:   2 * time.Second,
		HTTPConcurrency:  4,
		HTTPRetryTotal:   1,
		HTTPRetryBackoff: time.Millisecond,
	}, nil)
}

func TestClientHealthCheckOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s, want /health", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, newTestPool())
	if err := c.HealthCheck(t.Context()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientHealthCheckFailureIsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, newTestPool())
	err := c.HealthCheck(t.Context())
	if err == nil {
		t.Fatal("expected error")
	}
	// HealthCheck always wraps non-retryable regardless of underlying
	// error shape (§4.4).
	if !domain.IsNonRetryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestClientFetchPageDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("page_size") != "50" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":1},{"id":2}],"page":2,"page_size":50,"has_next":false}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, newTestPool())
	resp, err := c.FetchPage(t.Context(), "/users", 2, 50, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(resp.Items))
	}
}
