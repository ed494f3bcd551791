package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
	"github.com/prinquiel/messaging-analytics-etl/internal/workflow"
)

// RunFailer marks a run failed and still dispatches cleanup; satisfied
// by workflow.Driver.
type RunFailer interface {
	Fail(ctx domain.Context, payload domain.ActivityTaskPayload, cause error)
}

// StaleRunLister lists runs whose last heartbeat is older than maxAge
// while still marked running; satisfied by workflow.RunStateStore.
type StaleRunLister interface {
	ListStale(ctx context.Context, maxAge time.Duration) ([]string, error)
	Get(ctx context.Context, runID string) (workflow.RunState, error)
}

// StuckRunSweeper periodically finds runs orphaned by a crashed worker
// (no heartbeat within maxHeartbeatAge while still marked running) and
// marks them failed so they stop occupying "running" state forever.
// Adapted from the teacher's stuck-job sweeper, which paged
// JobProcessing rows by DB query; here the sweep target is Redis-backed
// workflow run state instead of a jobs table.
type StuckRunSweeper struct {
	runs            StaleRunLister
	driver          RunFailer
	maxHeartbeatAge time.Duration
	interval        time.Duration
}

// NewStuckRunSweeper builds a StuckRunSweeper. maxHeartbeatAge and
// interval default to 3 minutes and 1 minute respectively.
func NewStuckRunSweeper(runs StaleRunLister, driver RunFailer, maxHeartbeatAge, interval time.Duration) *StuckRunSweeper {
	if runs == nil || driver == nil {
		return nil
	}
	if maxHeartbeatAge <= 0 {
		maxHeartbeatAge = 3 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckRunSweeper{
		runs:            runs,
		driver:          driver,
		maxHeartbeatAge: maxHeartbeatAge,
		interval:        interval,
	}
}

// Run sweeps immediately, then on every tick, until ctx is canceled.
func (s *StuckRunSweeper) Run(ctx context.Context) {
	if s == nil || s.runs == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck run sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckRunSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("workflow.sweeper")
	ctx, span := tracer.Start(ctx, "StuckRunSweeper.sweepOnce")
	defer span.End()

	span.SetAttributes(attribute.Float64("runs.max_heartbeat_age_seconds", s.maxHeartbeatAge.Seconds()))

	staleIDs, err := s.runs.ListStale(ctx, s.maxHeartbeatAge)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck run sweep failed to list stale runs", slog.Any("error", err))
		return
	}

	span.SetAttributes(attribute.Int("runs.stale_count", len(staleIDs)))

	for _, runID := range staleIDs {
		runCtx, runSpan := tracer.Start(ctx, "StuckRunSweeper.failRun")
		runSpan.SetAttributes(attribute.String("run.id", runID))

		st, err := s.runs.Get(runCtx, runID)
		if err != nil {
			runSpan.RecordError(err)
			slog.Error("stuck run sweep failed to load run state", slog.String("run_id", runID), slog.Any("error", err))
			runSpan.End()
			continue
		}

		cause := domain.NewNonRetryable(domain.ErrInternal)
		payload := domain.ActivityTaskPayload{RunID: runID, Activity: domain.ActivityName(st.CurrentActivity), Attempt: st.Attempt}
		s.driver.Fail(runCtx, payload, cause)

		slog.Warn("marked stuck run failed",
			slog.String("run_id", runID),
			slog.String("stalled_activity", st.CurrentActivity),
			slog.Time("last_heartbeat_at", st.LastHeartbeatAt))
		runSpan.End()
	}
}
