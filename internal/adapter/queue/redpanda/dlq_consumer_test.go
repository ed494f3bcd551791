package redpanda

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

func TestNewDLQConsumer_RequiresBrokers(t *testing.T) {
	if _, err := NewDLQConsumer(nil, "group", nil, ""); err == nil {
		t.Fatal("expected error for empty brokers")
	}
}

func TestNewDLQConsumer_RequiresGroupID(t *testing.T) {
	if _, err := NewDLQConsumer([]string{"localhost:9092"}, "", nil, ""); err == nil {
		t.Fatal("expected error for empty group id")
	}
}

func TestDLQConsumer_ProcessDLQRecord_NotReprocessableIsSkipped(t *testing.T) {
	broker := getContainerBroker(t)
	producer, err := NewProducerWithTransactionalID([]string{broker}, "test-dlq-skip-producer", "test-dlq-skip-activity", "test-dlq-skip-dlq")
	if err != nil {
		t.Fatalf("NewProducerWithTransactionalID: %v", err)
	}
	defer producer.Close()

	dc, err := NewDLQConsumer([]string{broker}, "test-dlq-skip-group", producer, "test-dlq-skip-topic")
	if err != nil {
		t.Fatalf("NewDLQConsumer: %v", err)
	}
	defer dc.Stop()

	job := domain.DLQJob{
		JobID:            "run-1",
		OriginalPayload:  domain.ActivityTaskPayload{RunID: "run-1", Activity: domain.ActivityExtract},
		FailureReason:    "schema invalid",
		CanBeReprocessed: false,
	}
	b, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal DLQ job: %v", err)
	}

	// Must not panic or requeue; processDLQRecord short-circuits on
	// CanBeReprocessed=false before ever calling requeue.
	dc.processDLQRecord(context.Background(), &kgo.Record{Value: b})
}

func TestDLQConsumer_Requeue_SendsOriginalPayloadBackToActivityTopic(t *testing.T) {
	broker := getContainerBroker(t)
	producer, err := NewProducerWithTransactionalID([]string{broker}, "test-dlq-requeue-producer", "test-dlq-requeue-activity", "test-dlq-requeue-dlq")
	if err != nil {
		t.Fatalf("NewProducerWithTransactionalID: %v", err)
	}
	defer producer.Close()

	dc, err := NewDLQConsumer([]string{broker}, "test-dlq-requeue-group", producer, "test-dlq-requeue-topic")
	if err != nil {
		t.Fatalf("NewDLQConsumer: %v", err)
	}
	defer dc.Stop()

	job := domain.DLQJob{
		JobID:            "run-2",
		OriginalPayload:  domain.ActivityTaskPayload{RunID: "run-2", Activity: domain.ActivityLoad, Attempt: 3},
		FailureReason:    "db down",
		CanBeReprocessed: true,
		MovedToDLQAt:     time.Now().Add(-time.Hour), // already past cooldown
	}
	dc.requeue(context.Background(), job)
}
