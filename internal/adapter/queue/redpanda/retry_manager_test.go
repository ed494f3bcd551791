package redpanda

import (
	"context"
	"errors"
	"testing"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

func TestRetryManager_HandleFailure_NonRetryableMovesToDLQ(t *testing.T) {
	broker := getContainerBroker(t)
	producer, err := NewProducerWithTransactionalID([]string{broker}, "test-retry-nonretryable", "test-retry-nonretryable-activity", "test-retry-nonretryable-dlq")
	if err != nil {
		t.Fatalf("NewProducerWithTransactionalID: %v", err)
	}
	defer producer.Close()

	runner := &fakeActivityRunner{}
	rm := NewRetryManager(producer, runner)

	payload := domain.ActivityTaskPayload{RunID: "run-1", Activity: domain.ActivityExtract, Attempt: 1}
	cause := domain.NewNonRetryable(domain.ErrSchemaInvalid)
	if err := rm.HandleFailure(context.Background(), payload, cause); err != nil {
		t.Fatalf("HandleFailure: %v", err)
	}

	if len(runner.failed) != 1 {
		t.Fatalf("failed count = %d, want 1", len(runner.failed))
	}
	if runner.failed[0].RunID != "run-1" {
		t.Fatalf("failed run id = %q, want run-1", runner.failed[0].RunID)
	}
}

func TestRetryManager_HandleFailure_ExhaustedMovesToDLQ(t *testing.T) {
	broker := getContainerBroker(t)
	producer, err := NewProducerWithTransactionalID([]string{broker}, "test-retry-exhausted", "test-retry-exhausted-activity", "test-retry-exhausted-dlq")
	if err != nil {
		t.Fatalf("NewProducerWithTransactionalID: %v", err)
	}
	defer producer.Close()

	runner := &fakeActivityRunner{}
	rm := NewRetryManager(producer, runner)

	policy := domain.ActivityRetryPolicies[domain.ActivityLoad]
	payload := domain.ActivityTaskPayload{RunID: "run-2", Activity: domain.ActivityLoad, Attempt: policy.MaxRetries}
	if err := rm.HandleFailure(context.Background(), payload, errors.New("db down")); err != nil {
		t.Fatalf("HandleFailure: %v", err)
	}

	if len(runner.failed) != 1 {
		t.Fatalf("failed count = %d, want 1", len(runner.failed))
	}
}

func TestRetryManager_HandleFailure_TransientSchedulesRetryWithoutFailingRun(t *testing.T) {
	broker := getContainerBroker(t)
	producer, err := NewProducerWithTransactionalID([]string{broker}, "test-retry-transient", "test-retry-transient-activity", "test-retry-transient-dlq")
	if err != nil {
		t.Fatalf("NewProducerWithTransactionalID: %v", err)
	}
	defer producer.Close()

	runner := &fakeActivityRunner{}
	rm := NewRetryManager(producer, runner)

	payload := domain.ActivityTaskPayload{RunID: "run-3", Activity: domain.ActivityExtract, Attempt: 1}
	if err := rm.HandleFailure(context.Background(), payload, errors.New("upstream timeout")); err != nil {
		t.Fatalf("HandleFailure: %v", err)
	}

	if len(runner.failed) != 0 {
		t.Fatalf("failed count = %d, want 0 for a transient, non-exhausted failure", len(runner.failed))
	}
}
