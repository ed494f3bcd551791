// Package httpclient provides a process-shared, bounded-concurrency
// HTTP client pool with retry+backoff on transient faults (§4.1).
package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/prinquiel/messaging-analytics-etl/internal/adapter/observability"
	"github.com/prinquiel/messaging-analytics-etl/internal/config"
	legacyobs "github.com/prinquiel/messaging-analytics-etl/internal/observability"
)

// retryableStatuses are the HTTP statuses that should be retried
// instead of propagated as fatal (§4.1).
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// PermanentStatusError wraps a non-retryable HTTP response status.
type PermanentStatusError struct {
	StatusCode int
	URL        string
}

func (e *PermanentStatusError) Error() string {
	return fmt.Sprintf("non-retryable status %d for %s", e.StatusCode, e.URL)
}

// Pool is a process-shared HTTP client with bounded in-flight
// requests and exponential-backoff retries on transient faults.
// GET-only; no cookies or auth, per §4.1.
type Pool struct {
	client      *http.Client
	sem         chan struct{}
	retryTotal  int
	backoffBase time.Duration
	cb          *observability.CircuitBreaker
	atm         *legacyobs.AdaptiveTimeoutManager
	logger      *slog.Logger
}

// NewPool builds a Pool from Config (§4.1, §6.3). The per-request
// deadline starts at RequestTimeout but adapts within [RequestTimeout/2,
// RequestTimeout*2] as the source API's observed latency and error
// rate drift, so a degraded upstream doesn't eat the full budget on
// every call once it's been timing out.
func NewPool(cfg config.Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		sem:         make(chan struct{}, cfg.HTTPConcurrency),
		retryTotal:  cfg.HTTPRetryTotal,
		backoffBase: cfg.HTTPRetryBackoff,
		cb:          observability.NewCircuitBreaker("source-api", 5, 30*time.Second),
		atm:         legacyobs.NewAdaptiveTimeoutManager(cfg.RequestTimeout, cfg.RequestTimeout/2, cfg.RequestTimeout*2),
		logger:      logger,
	}
}

// Get issues a GET request, retrying transient faults up to
// retryTotal times with exponential backoff (coefficient 2). The
// returned body is fully buffered in memory since response payloads
// here are bounded JSON pages.
func (p *Pool) Get(ctx context.Context, url string) ([]byte, error) {
	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	var body []byte
	op := func() error {
		callCtx, cancel := p.atm.WithTimeout(ctx)
		defer cancel()

		start := time.Now()
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("op=httpclient.Get: build request: %w", err))
		}

		resp, err := p.client.Do(req)
		if err != nil {
			if callCtx.Err() != nil {
				p.atm.RecordTimeout()
			} else {
				p.atm.RecordFailure(err)
			}
			p.logger.Warn("http request failed, will retry", slog.String("url", url), slog.String("err", err.Error()))
			return fmt.Errorf("op=httpclient.Get: %w", err)
		}
		defer resp.Body.Close()
		defer p.atm.RecordSuccess(time.Since(start))

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("op=httpclient.Get: read body: %w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			body = data
			return nil
		}
		if retryableStatuses[resp.StatusCode] {
			p.logger.Warn("retryable status from source api", slog.String("url", url), slog.Int("status", resp.StatusCode))
			return fmt.Errorf("op=httpclient.Get: retryable status %d", resp.StatusCode)
		}
		return backoff.Permanent(&PermanentStatusError{StatusCode: resp.StatusCode, URL: url})
	}

	err := p.cb.Call(func() error {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.backoffBase
		b.Multiplier = 2.0
		bo := backoff.WithMaxRetries(b, uint64(p.retryTotal))
		return backoff.Retry(op, backoff.WithContext(bo, ctx))
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
