// Package redpanda provides the Kafka/Redpanda-backed task queue the
// Workflow Driver dispatches activity invocations through (§4.8,
// §10.4): it stands in for Temporal's task-queue transport, using the
// same exactly-once transactional producer/consumer-group machinery
// the teacher built for its evaluate task.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/prinquiel/messaging-analytics-etl/internal/adapter/observability"
	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
	legacyobs "github.com/prinquiel/messaging-analytics-etl/internal/observability"
)

const (
	// DefaultActivityTopic is used when no topic is configured.
	DefaultActivityTopic = "etl-task-queue"
	// DefaultActivityDLQTopic is used when no DLQ topic is configured.
	DefaultActivityDLQTopic = "etl-task-queue-dlq"
)

// Producer wraps a Kafka producer and implements workflow.Dispatcher.
type Producer struct {
	client *kgo.Client
	// Channel-based approach for concurrent processing
	transactionChan chan struct{}
	activityTopic   string
	dlqTopic        string
	connMetrics     *legacyobs.ConnectionMetrics
}

// NewProducer constructs a Producer with exactly-once semantics.
func NewProducer(brokers []string, activityTopic, dlqTopic string) (*Producer, error) {
	return NewProducerWithTransactionalID(brokers, "messaging-analytics-etl-producer", activityTopic, dlqTopic)
}

// NewProducerWithTransactionalID constructs a Producer with a custom transactional ID.
// This is useful for testing to avoid conflicts between multiple producers.
func NewProducerWithTransactionalID(brokers []string, transactionalID, activityTopic, dlqTopic string) (*Producer, error) {
	if activityTopic == "" {
		activityTopic = DefaultActivityTopic
	}
	if dlqTopic == "" {
		dlqTopic = DefaultActivityDLQTopic
	}
	slog.Info("creating redpanda producer",
		slog.Any("brokers", brokers),
		slog.String("transactional_id", transactionalID),
		slog.String("activity_topic", activityTopic))

	// Validate brokers
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		// Enable transactional producer for EOS semantics
		kgo.TransactionalID(transactionalID),
		// Enable retries for reliability
		kgo.RequestRetries(10),
		// Producer batch configuration
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		slog.Error("failed to create redpanda client", slog.Any("error", err))
		return nil, fmt.Errorf("redpanda client: %w", err)
	}

	// Create optimized topic for parallel processing
	ctx := context.Background()
	partitions := int32(8) // Multiple partitions for parallel processing
	replicationFactor := int16(1)

	if err := createOptimizedTopicForParallelProcessing(ctx, client, activityTopic, partitions, replicationFactor); err != nil {
		slog.Warn("failed to create optimized topic, falling back to standard topic creation",
			slog.String("topic", activityTopic),
			slog.Any("error", err))
		// Fallback to standard topic creation
		if err := createTopicIfNotExists(ctx, client, activityTopic, 1, 1); err != nil {
			slog.Warn("failed to create topic, it may already exist",
				slog.String("topic", activityTopic),
				slog.Any("error", err))
			// Don't fail if topic creation fails - it might already exist
		}
	}

	slog.Info("redpanda producer created successfully")
	return &Producer{
		client:          client,
		transactionChan: make(chan struct{}, 1), // Buffered channel for serializing transactions
		activityTopic:   activityTopic,
		dlqTopic:        dlqTopic,
		connMetrics:     legacyobs.NewConnectionMetrics(legacyobs.ConnectionTypeQueue, legacyobs.OperationTypePublish, activityTopic),
	}, nil
}

// EnqueueDLQ sends an exhausted activity invocation to the DLQ topic,
// carrying the failure reason so the DLQ consumer can decide whether
// it can be reprocessed.
func (p *Producer) EnqueueDLQ(ctx domain.Context, payload domain.ActivityTaskPayload, failureReason string) (err error) {
	p.connMetrics.RecordRequest()
	start := time.Now()
	defer func() {
		if err != nil {
			p.connMetrics.RecordFailure(err, time.Since(start))
		} else {
			p.connMetrics.RecordSuccess(time.Since(start))
		}
	}()

	dlq := domain.DLQJob{
		JobID:            payload.RunID,
		OriginalPayload:  payload,
		FailureReason:    failureReason,
		MovedToDLQAt:     time.Now(),
		CanBeReprocessed: true,
	}
	messageBytes, err := json.Marshal(dlq)
	if err != nil {
		slog.Error("failed to marshal DLQ message", slog.String("run_id", payload.RunID), slog.Any("error", err))
		return fmt.Errorf("op=redpanda.Producer.EnqueueDLQ marshal: %w", err)
	}

	record := &kgo.Record{
		Key:   []byte(payload.RunID),
		Value: messageBytes,
		Topic: p.dlqTopic,
	}

	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("op=redpanda.Producer.EnqueueDLQ begin transaction: %w", err)
	}

	produceResult := p.client.ProduceSync(ctx, record)
	if err := produceResult.FirstErr(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort DLQ transaction", slog.String("run_id", payload.RunID), slog.Any("error", abortErr))
		}
		return fmt.Errorf("op=redpanda.Producer.EnqueueDLQ produce: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("op=redpanda.Producer.EnqueueDLQ commit transaction: %w", err)
	}

	observability.RecordActivityDLQ(string(payload.Activity))
	slog.Info("activity moved to DLQ", slog.String("run_id", payload.RunID), slog.String("activity", string(payload.Activity)))
	return nil
}

// EnqueueActivity enqueues one activity invocation onto the activity
// task queue with exactly-once semantics, implementing
// workflow.Dispatcher.
func (p *Producer) EnqueueActivity(ctx domain.Context, payload domain.ActivityTaskPayload) error {
	return p.enqueueActivityToTopic(ctx, payload, p.activityTopic)
}

// enqueueActivityToTopic enqueues to a specific topic; tests use this
// to isolate topics between runs.
func (p *Producer) enqueueActivityToTopic(ctx domain.Context, payload domain.ActivityTaskPayload, topic string) (err error) {
	p.connMetrics.RecordRequest()
	start := time.Now()
	defer func() {
		if err != nil {
			p.connMetrics.RecordFailure(err, time.Since(start))
		} else {
			p.connMetrics.RecordSuccess(time.Since(start))
		}
	}()

	slog.Debug("enqueueing activity task",
		slog.String("run_id", payload.RunID),
		slog.String("activity", string(payload.Activity)),
		slog.Int("attempt", payload.Attempt),
		slog.String("topic", topic))

	select {
	case p.transactionChan <- struct{}{}:
		defer func() { <-p.transactionChan }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("op=redpanda.Producer.EnqueueActivity begin transaction: %w", err)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		return fmt.Errorf("op=redpanda.Producer.EnqueueActivity marshal: %w", err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(payload.RunID), // keyed by run so a run's activities land in order on one partition
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "run_id", Value: []byte(payload.RunID)},
			{Key: "activity", Value: []byte(payload.Activity)},
		},
	}

	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())

	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("failed to abort transaction", slog.Any("error", abortErr))
		}
		return fmt.Errorf("op=redpanda.Producer.EnqueueActivity produce: %w", err)
	}

	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("op=redpanda.Producer.EnqueueActivity commit transaction: %w", err)
	}

	observability.EnqueueActivity(string(payload.Activity))
	return nil
}

// Close closes the producer.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	if p.transactionChan != nil {
		select {
		case <-p.transactionChan:
			// Channel already closed
		default:
			close(p.transactionChan)
		}
	}
	return nil
}
