// Package redpanda implements retry and DLQ management for resilient
// activity processing (§7).
package redpanda

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

// RetryManager decides, per §7, whether a failed activity invocation
// gets requeued with backoff or routed to the DLQ, and marks the
// owning run failed in the latter case.
type RetryManager struct {
	producer *Producer
	driver   ActivityRunner
}

// NewRetryManager creates a new retry manager.
func NewRetryManager(producer *Producer, driver ActivityRunner) *RetryManager {
	return &RetryManager{producer: producer, driver: driver}
}

// HandleFailure applies the fixed per-activity retry policy
// (domain.ActivityRetryPolicies) to a failed activity invocation: a
// non-retryable error or an attempt count that has exhausted the
// policy moves the run to the DLQ and marks it failed; otherwise the
// activity is requeued at Attempt+1 after an exponential backoff delay.
func (rm *RetryManager) HandleFailure(ctx context.Context, payload domain.ActivityTaskPayload, cause error) error {
	policy := domain.ActivityRetryPolicies[payload.Activity]
	ri := &domain.RetryInfo{AttemptCount: payload.Attempt, LastError: cause.Error(), CreatedAt: time.Now(), UpdatedAt: time.Now()}

	if domain.IsNonRetryable(cause) || !ri.ShouldRetry(cause, policy) || payload.Attempt >= policy.MaxRetries {
		slog.Info("activity failure routed to DLQ",
			slog.String("run_id", payload.RunID),
			slog.String("activity", string(payload.Activity)),
			slog.Int("attempt", payload.Attempt),
			slog.String("failure_code", classifyFailureCode(cause.Error())),
			slog.Any("error", cause))
		return rm.moveToDLQ(ctx, payload, cause)
	}

	// Attempt is 1-based, so the first retry waits InitialDelay.
	delayInfo := domain.RetryInfo{AttemptCount: payload.Attempt - 1}
	delay := delayInfo.CalculateNextRetryDelay(policy)
	slog.Info("activity scheduled for retry",
		slog.String("run_id", payload.RunID),
		slog.String("activity", string(payload.Activity)),
		slog.Int("attempt", payload.Attempt),
		slog.Duration("delay", delay))

	go rm.scheduleRetry(payload, delay)
	return nil
}

// scheduleRetry requeues the activity at the next attempt after delay.
// It runs detached from the request context: the delay routinely
// exceeds a single poll loop's lifetime and the retry must still fire
// if the consumer that observed the failure is mid-shutdown.
func (rm *RetryManager) scheduleRetry(payload domain.ActivityTaskPayload, delay time.Duration) {
	time.Sleep(delay)

	next := payload
	next.Attempt++
	if err := rm.producer.EnqueueActivity(context.Background(), next); err != nil {
		slog.Error("failed to requeue activity for retry",
			slog.String("run_id", payload.RunID),
			slog.String("activity", string(payload.Activity)),
			slog.Any("error", err))
	}
}

// moveToDLQ marks the owning run failed and emits it to the DLQ topic.
func (rm *RetryManager) moveToDLQ(ctx context.Context, payload domain.ActivityTaskPayload, cause error) error {
	rm.driver.Fail(ctx, payload, cause)
	if err := rm.producer.EnqueueDLQ(ctx, payload, cause.Error()); err != nil {
		return fmt.Errorf("op=redpanda.RetryManager.moveToDLQ: %w", err)
	}
	return nil
}
