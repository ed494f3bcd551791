// Package redpanda implements the DLQ consumer for activity
// invocations that exhausted their retry budget (§7).
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

// dlqRateLimitCooldown bounds how long a rate-limit or timeout DLQ
// entry waits before it is requeued, so a reprocessing attempt does
// not immediately hammer an upstream that just signaled backpressure.
const dlqRateLimitCooldown = 30 * time.Second

// DLQConsumer processes DLQJob messages from the activity DLQ topic,
// requeueing reprocessable ones back onto the activity topic.
type DLQConsumer struct {
	client   *kgo.Client
	producer *Producer
	groupID  string
	topic    string
	shutdown chan struct{}
}

// NewDLQConsumer creates a new DLQ consumer against the given topic.
func NewDLQConsumer(brokers []string, groupID string, producer *Producer, topic string) (*DLQConsumer, error) {
	slog.Info("creating DLQ consumer", slog.Any("brokers", brokers), slog.String("group_id", groupID), slog.String("topic", topic))

	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if topic == "" {
		topic = DefaultActivityDLQTopic
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.RequireStableFetchOffsets(),
		kgo.FetchMaxBytes(1048576),
		kgo.FetchMaxWait(100 * time.Millisecond),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxPartitionBytes(1048576),
		kgo.DialTimeout(30 * time.Second),
		kgo.RequestTimeoutOverhead(10 * time.Second),
		kgo.RetryTimeout(60 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		slog.Error("failed to create DLQ consumer client", slog.Any("error", err))
		return nil, fmt.Errorf("DLQ consumer client: %w", err)
	}

	slog.Info("DLQ consumer created successfully", slog.String("group_id", groupID), slog.String("topic", topic))
	return &DLQConsumer{
		client:   client,
		producer: producer,
		groupID:  groupID,
		topic:    topic,
		shutdown: make(chan struct{}),
	}, nil
}

// Start begins consuming DLQ messages.
func (dc *DLQConsumer) Start(ctx context.Context) error {
	slog.Info("starting DLQ consumer", slog.String("group_id", dc.groupID), slog.String("topic", dc.topic))
	go dc.dlqMessageProcessor(ctx)
	return nil
}

// Stop stops the DLQ consumer.
func (dc *DLQConsumer) Stop() {
	slog.Info("stopping DLQ consumer")
	close(dc.shutdown)
	dc.client.Close()
}

func (dc *DLQConsumer) dlqMessageProcessor(ctx context.Context) {
	slog.Info("DLQ message processor started", slog.String("topic", dc.topic), slog.String("group_id", dc.groupID))
	for {
		select {
		case <-ctx.Done():
			return
		case <-dc.shutdown:
			return
		default:
			fetchCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
			fetches := dc.client.PollFetches(fetchCtx)
			cancel()

			if errs := fetches.Errors(); len(errs) > 0 {
				for _, err := range errs {
					slog.Error("DLQ fetch error", slog.String("topic", err.Topic), slog.Any("error", err.Err))
				}
				time.Sleep(2 * time.Second)
				continue
			}

			if fetches.NumRecords() == 0 {
				time.Sleep(100 * time.Millisecond)
				continue
			}

			fetches.EachRecord(func(record *kgo.Record) {
				dc.processDLQRecord(ctx, record)
			})
		}
	}
}

func (dc *DLQConsumer) processDLQRecord(ctx context.Context, record *kgo.Record) {
	var dlqJob domain.DLQJob
	if err := json.Unmarshal(record.Value, &dlqJob); err != nil {
		slog.Error("failed to unmarshal DLQ job", slog.Any("error", err), slog.Int64("offset", record.Offset))
		return
	}

	if !dlqJob.CanBeReprocessed {
		slog.Info("DLQ job cannot be reprocessed", slog.String("run_id", dlqJob.JobID), slog.String("reason", dlqJob.FailureReason))
		return
	}

	code := classifyFailureCode(dlqJob.FailureReason)
	needsCooldown := code == "UPSTREAM_RATE_LIMIT" || code == "UPSTREAM_TIMEOUT"
	cooldownUntil := dlqJob.MovedToDLQAt.Add(dlqRateLimitCooldown)
	if delay := time.Until(cooldownUntil); needsCooldown && delay > 0 {
		slog.Info("DLQ cooling before reprocessing", slog.String("run_id", dlqJob.JobID), slog.Duration("remaining", delay))
		go func(job domain.DLQJob, d time.Duration) {
			time.Sleep(d)
			dc.requeue(context.Background(), job)
		}(dlqJob, delay)
		return
	}

	dc.requeue(ctx, dlqJob)
}

// requeue re-enqueues the original activity invocation at attempt 1,
// giving it a fresh retry budget under the owning run.
func (dc *DLQConsumer) requeue(ctx context.Context, dlqJob domain.DLQJob) {
	next := dlqJob.OriginalPayload
	next.Attempt = 1
	if err := dc.producer.EnqueueActivity(ctx, next); err != nil {
		slog.Error("failed to requeue DLQ job", slog.String("run_id", dlqJob.JobID), slog.Any("error", err))
		return
	}
	slog.Info("DLQ job requeued", slog.String("run_id", dlqJob.JobID), slog.String("original_failure_reason", dlqJob.FailureReason))
}
