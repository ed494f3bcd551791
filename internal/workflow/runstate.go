// Package workflow implements the Workflow Driver (§4.8): a small
// in-process durable executor that sequences the four ETL activities
// without a Temporal (or other durable-workflow) SDK. RunStateStore
// persists per-run progress and heartbeats in Redis, the Go stand-in
// for Temporal's server-side workflow history (§10.4); Driver walks a
// run through Extract -> Transform -> Load -> Cleanup, dispatching
// each activity invocation through the task queue.
package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

const runKeyPrefix = "etl:run:"

// RunState is the durable record of one workflow run's progress.
type RunState struct {
	RunID           string
	Status          RunStatus
	CurrentActivity string
	Attempt         int
	RawPath         string
	TransformedPath string
	FailureReason   string
	StartedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeatAt time.Time
}

// RunStateStore persists RunState in Redis so a restarted worker can
// resume or time out a run that crashed mid-activity (§5, §7).
type RunStateStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRunStateStore builds a RunStateStore. ttl bounds how long a run's
// state survives in Redis after it stops being touched; it defaults
// to 7 days, comfortably past any single activity's start-to-close
// timeout (§4.8).
func NewRunStateStore(rdb *redis.Client, ttl time.Duration) *RunStateStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RunStateStore{rdb: rdb, ttl: ttl}
}

func runKey(runID string) string { return runKeyPrefix + runID }

// Create seeds run state for a new run at the extract activity.
func (s *RunStateStore) Create(ctx context.Context, runID string) error {
	now := time.Now()
	return s.save(ctx, RunState{
		RunID:           runID,
		Status:          RunStatusRunning,
		CurrentActivity: "extract",
		Attempt:         1,
		StartedAt:       now,
		UpdatedAt:       now,
		LastHeartbeatAt: now,
	})
}

func (s *RunStateStore) save(ctx context.Context, st RunState) error {
	key := runKey(st.RunID)
	fields := map[string]interface{}{
		"status":            string(st.Status),
		"current_activity":  st.CurrentActivity,
		"attempt":           strconv.Itoa(st.Attempt),
		"raw_path":          st.RawPath,
		"transformed_path":  st.TransformedPath,
		"failure_reason":    st.FailureReason,
		"started_at":        st.StartedAt.Format(time.RFC3339Nano),
		"updated_at":        st.UpdatedAt.Format(time.RFC3339Nano),
		"last_heartbeat_at": st.LastHeartbeatAt.Format(time.RFC3339Nano),
	}
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("op=workflow.RunStateStore.save: %w", err)
	}
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("op=workflow.RunStateStore.save expire: %w", err)
	}
	return nil
}

// Get loads the current state of a run.
func (s *RunStateStore) Get(ctx context.Context, runID string) (RunState, error) {
	res, err := s.rdb.HGetAll(ctx, runKey(runID)).Result()
	if err != nil {
		return RunState{}, fmt.Errorf("op=workflow.RunStateStore.Get: %w", err)
	}
	if len(res) == 0 {
		return RunState{}, fmt.Errorf("op=workflow.RunStateStore.Get: run %s not found", runID)
	}
	attempt, _ := strconv.Atoi(res["attempt"])
	started, _ := time.Parse(time.RFC3339Nano, res["started_at"])
	updated, _ := time.Parse(time.RFC3339Nano, res["updated_at"])
	beat, _ := time.Parse(time.RFC3339Nano, res["last_heartbeat_at"])
	return RunState{
		RunID:           runID,
		Status:          RunStatus(res["status"]),
		CurrentActivity: res["current_activity"],
		Attempt:         attempt,
		RawPath:         res["raw_path"],
		TransformedPath: res["transformed_path"],
		FailureReason:   res["failure_reason"],
		StartedAt:       started,
		UpdatedAt:       updated,
		LastHeartbeatAt: beat,
	}, nil
}

// Heartbeat refreshes a run's last-beat timestamp; the driver calls
// this from the HeartbeatFunc an activity invokes mid-flight.
func (s *RunStateStore) Heartbeat(ctx context.Context, runID string) error {
	key := runKey(runID)
	if err := s.rdb.HSet(ctx, key, "last_heartbeat_at", time.Now().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("op=workflow.RunStateStore.Heartbeat: %w", err)
	}
	return nil
}

// Advance moves a run to the next activity, recording whichever spill
// paths the previous activity produced.
func (s *RunStateStore) Advance(ctx context.Context, runID, nextActivity, rawPath, transformedPath string) error {
	st, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}
	st.CurrentActivity = nextActivity
	st.Attempt = 1
	if rawPath != "" {
		st.RawPath = rawPath
	}
	if transformedPath != "" {
		st.TransformedPath = transformedPath
	}
	st.UpdatedAt = time.Now()
	st.LastHeartbeatAt = st.UpdatedAt
	return s.save(ctx, st)
}

// RecordAttempt persists the attempt number the consumer is about to
// run, so a ListStale sweep can report how far a stuck run got.
func (s *RunStateStore) RecordAttempt(ctx context.Context, runID string, attempt int) error {
	st, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}
	st.Attempt = attempt
	st.UpdatedAt = time.Now()
	st.LastHeartbeatAt = st.UpdatedAt
	return s.save(ctx, st)
}

// MarkSucceeded records that every activity completed.
func (s *RunStateStore) MarkSucceeded(ctx context.Context, runID string) error {
	st, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}
	st.Status = RunStatusSucceeded
	st.CurrentActivity = "done"
	st.UpdatedAt = time.Now()
	return s.save(ctx, st)
}

// MarkFailed records that the run was abandoned after retries were
// exhausted or a non-retryable error surfaced.
func (s *RunStateStore) MarkFailed(ctx context.Context, runID, reason string) error {
	st, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}
	st.Status = RunStatusFailed
	st.FailureReason = reason
	st.UpdatedAt = time.Now()
	return s.save(ctx, st)
}

// ListStale returns the IDs of runs still marked "running" whose last
// heartbeat is older than maxAge: runs orphaned by a crashed worker,
// mirroring the teacher's stuck-job sweep but over workflow runs
// instead of processing rows.
func (s *RunStateStore) ListStale(ctx context.Context, maxAge time.Duration) ([]string, error) {
	var stale []string
	cutoff := time.Now().Add(-maxAge)
	iter := s.rdb.Scan(ctx, 0, runKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		res, err := s.rdb.HMGet(ctx, key, "status", "last_heartbeat_at").Result()
		if err != nil || len(res) < 2 {
			continue
		}
		status, _ := res[0].(string)
		if status != string(RunStatusRunning) {
			continue
		}
		beatStr, _ := res[1].(string)
		beat, err := time.Parse(time.RFC3339Nano, beatStr)
		if err != nil || beat.After(cutoff) {
			continue
		}
		stale = append(stale, strings.TrimPrefix(key, runKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("op=workflow.RunStateStore.ListStale: %w", err)
	}
	return stale, nil
}
