package workflow

import (
	"fmt"
	"log/slog"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
)

// Dispatcher enqueues one activity invocation onto the task queue
// (§4.8); the redpanda producer implements this in production.
type Dispatcher interface {
	EnqueueActivity(ctx domain.Context, payload domain.ActivityTaskPayload) error
}

// Driver sequences Extract -> Transform -> Load -> Cleanup for one
// workflow run (§4.8). It is the in-process stand-in for a Temporal
// workflow function: HandleActivity is called once per activity
// invocation delivered by the queue consumer, and resumes a run from
// the RunState persisted in Redis rather than from workflow history.
// The driver itself never retries — it returns the activity's error
// unchanged so the consumer can apply the retry/DLQ policy of §7.
type Driver struct {
	extractor   domain.Extractor
	transformer domain.Transformer
	loader      domain.Loader
	cleaner     domain.SpillCleaner
	runs        *RunStateStore
	dispatch    Dispatcher
	logger      *slog.Logger
}

// NewDriver builds a Driver from the four activity ports plus the run
// state store and task-queue dispatcher.
func NewDriver(extractor domain.Extractor, transformer domain.Transformer, loader domain.Loader, cleaner domain.SpillCleaner, runs *RunStateStore, dispatch Dispatcher, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		extractor:   extractor,
		transformer: transformer,
		loader:      loader,
		cleaner:     cleaner,
		runs:        runs,
		dispatch:    dispatch,
		logger:      logger,
	}
}

// StartRun seeds run state and enqueues the first (extract) activity.
func (d *Driver) StartRun(ctx domain.Context, runID string) error {
	if err := d.runs.Create(ctx, runID); err != nil {
		return fmt.Errorf("op=workflow.Driver.StartRun: %w", err)
	}
	if err := d.dispatch.EnqueueActivity(ctx, domain.ActivityTaskPayload{RunID: runID, Activity: domain.ActivityExtract, Attempt: 1}); err != nil {
		return fmt.Errorf("op=workflow.Driver.StartRun dispatch: %w", err)
	}
	return nil
}

func (d *Driver) heartbeatFor(payload domain.ActivityTaskPayload) domain.HeartbeatFunc {
	return func(ctx domain.Context, detail string) {
		if err := d.runs.Heartbeat(ctx, payload.RunID); err != nil {
			d.logger.Warn("heartbeat persist failed", slog.String("run_id", payload.RunID), slog.Any("error", err))
		}
		d.logger.Debug("activity heartbeat",
			slog.String("run_id", payload.RunID),
			slog.String("activity", string(payload.Activity)),
			slog.String("detail", detail))
	}
}

// HandleActivity executes one activity invocation. On success it
// advances the run state and dispatches the next activity in the
// sequence; Load's success dispatches Cleanup directly since cleanup
// always runs regardless of outcome (§4.8).
func (d *Driver) HandleActivity(ctx domain.Context, payload domain.ActivityTaskPayload) error {
	if err := d.runs.RecordAttempt(ctx, payload.RunID, payload.Attempt); err != nil {
		d.logger.Warn("record attempt failed", slog.String("run_id", payload.RunID), slog.Any("error", err))
	}
	heartbeat := d.heartbeatFor(payload)

	switch payload.Activity {
	case domain.ActivityExtract:
		result, err := d.extractor.Run(ctx, payload.RunID, heartbeat)
		if err != nil {
			return fmt.Errorf("op=workflow.Driver.HandleActivity activity=extract: %w", err)
		}
		if err := d.runs.Advance(ctx, payload.RunID, string(domain.ActivityTransform), result.RawPath, ""); err != nil {
			return fmt.Errorf("op=workflow.Driver.HandleActivity activity=extract advance: %w", err)
		}
		next := domain.ActivityTaskPayload{RunID: payload.RunID, Activity: domain.ActivityTransform, RawPath: result.RawPath, Attempt: 1}
		if err := d.dispatch.EnqueueActivity(ctx, next); err != nil {
			return fmt.Errorf("op=workflow.Driver.HandleActivity activity=extract dispatch: %w", err)
		}
		return nil

	case domain.ActivityTransform:
		result, err := d.transformer.Run(ctx, payload.RunID, payload.RawPath, heartbeat)
		if err != nil {
			return fmt.Errorf("op=workflow.Driver.HandleActivity activity=transform: %w", err)
		}
		if err := d.runs.Advance(ctx, payload.RunID, string(domain.ActivityLoad), payload.RawPath, result.TransformedPath); err != nil {
			return fmt.Errorf("op=workflow.Driver.HandleActivity activity=transform advance: %w", err)
		}
		next := domain.ActivityTaskPayload{RunID: payload.RunID, Activity: domain.ActivityLoad, RawPath: payload.RawPath, TransformedPath: result.TransformedPath, Attempt: 1}
		if err := d.dispatch.EnqueueActivity(ctx, next); err != nil {
			return fmt.Errorf("op=workflow.Driver.HandleActivity activity=transform dispatch: %w", err)
		}
		return nil

	case domain.ActivityLoad:
		if err := d.loader.Run(ctx, payload.RunID, payload.TransformedPath); err != nil {
			return fmt.Errorf("op=workflow.Driver.HandleActivity activity=load: %w", err)
		}
		if err := d.runs.MarkSucceeded(ctx, payload.RunID); err != nil {
			d.logger.Warn("mark succeeded failed", slog.String("run_id", payload.RunID), slog.Any("error", err))
		}
		next := domain.ActivityTaskPayload{RunID: payload.RunID, Activity: domain.ActivityCleanup, RawPath: payload.RawPath, TransformedPath: payload.TransformedPath, Attempt: 1}
		if err := d.dispatch.EnqueueActivity(ctx, next); err != nil {
			return fmt.Errorf("op=workflow.Driver.HandleActivity activity=load dispatch: %w", err)
		}
		return nil

	case domain.ActivityCleanup:
		if err := d.cleaner.Cleanup(ctx, payload.RawPath, payload.TransformedPath); err != nil {
			d.logger.Warn("spill cleanup failed", slog.String("run_id", payload.RunID), slog.Any("error", err))
		}
		return nil

	default:
		return fmt.Errorf("op=workflow.Driver.HandleActivity: unknown activity %q", payload.Activity)
	}
}

// Fail marks a run failed after its retries are exhausted or a
// non-retryable error surfaced, and still dispatches cleanup so spill
// files are removed regardless of outcome (§4.8, §7).
func (d *Driver) Fail(ctx domain.Context, payload domain.ActivityTaskPayload, cause error) {
	if err := d.runs.MarkFailed(ctx, payload.RunID, cause.Error()); err != nil {
		d.logger.Warn("mark failed error", slog.String("run_id", payload.RunID), slog.Any("error", err))
	}
	cleanup := domain.ActivityTaskPayload{RunID: payload.RunID, Activity: domain.ActivityCleanup, RawPath: payload.RawPath, TransformedPath: payload.TransformedPath, Attempt: 1}
	if err := d.dispatch.EnqueueActivity(ctx, cleanup); err != nil {
		d.logger.Warn("cleanup dispatch after failure error", slog.String("run_id", payload.RunID), slog.Any("error", err))
	}
}
