package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prinquiel/messaging-analytics-etl/internal/domain"
	"github.com/prinquiel/messaging-analytics-etl/internal/workflow"
)

type fakeExtractor struct {
	result domain.ExtractResult
	err    error
}

func (f *fakeExtractor) Run(ctx domain.Context, runID string, hb domain.HeartbeatFunc) (domain.ExtractResult, error) {
	if hb != nil {
		hb(ctx, "page 1")
	}
	return f.result, f.err
}

type fakeTransformer struct {
	result domain.TransformResult
	err    error
}

func (f *fakeTransformer) Run(ctx domain.Context, runID, rawPath string, hb domain.HeartbeatFunc) (domain.TransformResult, error) {
	if hb != nil {
		hb(ctx, "row 1000")
	}
	return f.result, f.err
}

type fakeLoader struct{ err error }

func (f *fakeLoader) Run(ctx domain.Context, runID, transformedPath string) error { return f.err }

type fakeCleaner struct {
	calledWith []string
	err        error
}

func (f *fakeCleaner) Cleanup(ctx domain.Context, paths ...string) error {
	f.calledWith = append(f.calledWith, paths...)
	return f.err
}

type fakeDispatcher struct {
	enqueued []domain.ActivityTaskPayload
	err      error
}

func (f *fakeDispatcher) EnqueueActivity(ctx domain.Context, payload domain.ActivityTaskPayload) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, payload)
	return nil
}

func TestDriver_StartRun_SeedsStateAndDispatchesExtract(t *testing.T) {
	store, _ := newTestStore(t)
	dispatch := &fakeDispatcher{}
	d := workflow.NewDriver(&fakeExtractor{}, &fakeTransformer{}, &fakeLoader{}, &fakeCleaner{}, store, dispatch, nil)

	require.NoError(t, d.StartRun(context.Background(), "run1"))
	require.Len(t, dispatch.enqueued, 1)
	require.Equal(t, domain.ActivityExtract, dispatch.enqueued[0].Activity)

	st, err := store.Get(context.Background(), "run1")
	require.NoError(t, err)
	require.Equal(t, workflow.RunStatusRunning, st.Status)
}

func TestDriver_HandleActivity_ExtractSuccessAdvancesToTransform(t *testing.T) {
	store, _ := newTestStore(t)
	dispatch := &fakeDispatcher{}
	extractor := &fakeExtractor{result: domain.ExtractResult{RunID: "run1", RawPath: "/tmp/etl-run1-raw.ndjson", RowCount: 10}}
	d := workflow.NewDriver(extractor, &fakeTransformer{}, &fakeLoader{}, &fakeCleaner{}, store, dispatch, nil)

	require.NoError(t, store.Create(context.Background(), "run1"))
	err := d.HandleActivity(context.Background(), domain.ActivityTaskPayload{RunID: "run1", Activity: domain.ActivityExtract, Attempt: 1})
	require.NoError(t, err)

	require.Len(t, dispatch.enqueued, 1)
	require.Equal(t, domain.ActivityTransform, dispatch.enqueued[0].Activity)
	require.Equal(t, "/tmp/etl-run1-raw.ndjson", dispatch.enqueued[0].RawPath)

	st, err := store.Get(context.Background(), "run1")
	require.NoError(t, err)
	require.Equal(t, "transform", st.CurrentActivity)
}

func TestDriver_HandleActivity_LoadSuccessMarksSucceededAndDispatchesCleanup(t *testing.T) {
	store, _ := newTestStore(t)
	dispatch := &fakeDispatcher{}
	d := workflow.NewDriver(&fakeExtractor{}, &fakeTransformer{}, &fakeLoader{}, &fakeCleaner{}, store, dispatch, nil)

	require.NoError(t, store.Create(context.Background(), "run1"))
	payload := domain.ActivityTaskPayload{RunID: "run1", Activity: domain.ActivityLoad, RawPath: "/tmp/r.ndjson", TransformedPath: "/tmp/t.json", Attempt: 1}
	require.NoError(t, d.HandleActivity(context.Background(), payload))

	st, err := store.Get(context.Background(), "run1")
	require.NoError(t, err)
	require.Equal(t, workflow.RunStatusSucceeded, st.Status)

	require.Len(t, dispatch.enqueued, 1)
	require.Equal(t, domain.ActivityCleanup, dispatch.enqueued[0].Activity)
}

func TestDriver_HandleActivity_CleanupCallsCleanerAndNeverFails(t *testing.T) {
	store, _ := newTestStore(t)
	dispatch := &fakeDispatcher{}
	cleaner := &fakeCleaner{err: errors.New("file busy")}
	d := workflow.NewDriver(&fakeExtractor{}, &fakeTransformer{}, &fakeLoader{}, cleaner, store, dispatch, nil)

	payload := domain.ActivityTaskPayload{RunID: "run1", Activity: domain.ActivityCleanup, RawPath: "/tmp/r.ndjson", TransformedPath: "/tmp/t.json", Attempt: 1}
	require.NoError(t, d.HandleActivity(context.Background(), payload))
	require.Equal(t, []string{"/tmp/r.ndjson", "/tmp/t.json"}, cleaner.calledWith)
}

func TestDriver_HandleActivity_LoadFailurePropagatesError(t *testing.T) {
	store, _ := newTestStore(t)
	dispatch := &fakeDispatcher{}
	loader := &fakeLoader{err: errors.New("db down")}
	d := workflow.NewDriver(&fakeExtractor{}, &fakeTransformer{}, loader, &fakeCleaner{}, store, dispatch, nil)

	require.NoError(t, store.Create(context.Background(), "run1"))
	payload := domain.ActivityTaskPayload{RunID: "run1", Activity: domain.ActivityLoad, TransformedPath: "/tmp/t.json", Attempt: 1}
	err := d.HandleActivity(context.Background(), payload)
	require.Error(t, err)
	require.Empty(t, dispatch.enqueued)
}

func TestDriver_Fail_MarksFailedAndDispatchesCleanup(t *testing.T) {
	store, _ := newTestStore(t)
	dispatch := &fakeDispatcher{}
	d := workflow.NewDriver(&fakeExtractor{}, &fakeTransformer{}, &fakeLoader{}, &fakeCleaner{}, store, dispatch, nil)

	require.NoError(t, store.Create(context.Background(), "run1"))
	payload := domain.ActivityTaskPayload{RunID: "run1", Activity: domain.ActivityExtract, Attempt: 4}
	d.Fail(context.Background(), payload, domain.NewNonRetryable(domain.ErrHealthCheckFailed))

	st, err := store.Get(context.Background(), "run1")
	require.NoError(t, err)
	require.Equal(t, workflow.RunStatusFailed, st.Status)
	require.Contains(t, st.FailureReason, "health check")

	require.Len(t, dispatch.enqueued, 1)
	require.Equal(t, domain.ActivityCleanup, dispatch.enqueued[0].Activity)
}

func TestDriver_HandleActivity_UnknownActivity(t *testing.T) {
	store, _ := newTestStore(t)
	dispatch := &fakeDispatcher{}
	d := workflow.NewDriver(&fakeExtractor{}, &fakeTransformer{}, &fakeLoader{}, &fakeCleaner{}, store, dispatch, nil)

	err := d.HandleActivity(context.Background(), domain.ActivityTaskPayload{RunID: "run1", Activity: "bogus"})
	require.Error(t, err)
}
