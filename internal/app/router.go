// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prinquiel/messaging-analytics-etl/internal/adapter/observability"
	"github.com/prinquiel/messaging-analytics-etl/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// ReadinessCheck is one named dependency probe run by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// BuildRouter constructs the ambient HTTP mux: health, readiness, and
// metrics endpoints only (§10.6) — there is no workflow-trigger HTTP
// surface here; cmd/etltrigger starts runs directly.
func BuildRouter(cfg config.Config, checks []ReadinessCheck) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(chimiddleware.Logger)
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))

	r.Get("/healthz", healthzHandler())
	r.Get("/health", healthzHandler())
	r.Get("/readyz", readyzHandler(checks))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// readyzHandler runs every check concurrently and reports 503 with the
// per-dependency failures if any check fails.
func readyzHandler(checks []ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks))
		var mu sync.Mutex
		var wg sync.WaitGroup
		healthy := true

		for _, c := range checks {
			wg.Add(1)
			go func(c ReadinessCheck) {
				defer wg.Done()
				err := c.Check(ctx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					results[c.Name] = err.Error()
					healthy = false
				} else {
					results[c.Name] = "ok"
				}
			}(c)
		}
		wg.Wait()

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"checks": results, "healthy": healthy})
	}
}
