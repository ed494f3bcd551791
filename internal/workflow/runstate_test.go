package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/prinquiel/messaging-analytics-etl/internal/workflow"
)

func newTestStore(t *testing.T) (*workflow.RunStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return workflow.NewRunStateStore(rdb, time.Hour), mr
}

func TestRunStateStore_CreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "run1"))
	st, err := store.Get(ctx, "run1")
	require.NoError(t, err)
	require.Equal(t, workflow.RunStatusRunning, st.Status)
	require.Equal(t, "extract", st.CurrentActivity)
	require.Equal(t, 1, st.Attempt)
}

func TestRunStateStore_Advance(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "run1"))

	require.NoError(t, store.Advance(ctx, "run1", "transform", "/tmp/raw.ndjson", ""))
	st, err := store.Get(ctx, "run1")
	require.NoError(t, err)
	require.Equal(t, "transform", st.CurrentActivity)
	require.Equal(t, "/tmp/raw.ndjson", st.RawPath)
	require.Equal(t, 1, st.Attempt)

	require.NoError(t, store.Advance(ctx, "run1", "load", "", "/tmp/out.json"))
	st, err = store.Get(ctx, "run1")
	require.NoError(t, err)
	require.Equal(t, "load", st.CurrentActivity)
	require.Equal(t, "/tmp/raw.ndjson", st.RawPath, "raw path carried forward once set")
	require.Equal(t, "/tmp/out.json", st.TransformedPath)
}

func TestRunStateStore_MarkSucceededAndFailed(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "run-ok"))
	require.NoError(t, store.MarkSucceeded(ctx, "run-ok"))
	st, err := store.Get(ctx, "run-ok")
	require.NoError(t, err)
	require.Equal(t, workflow.RunStatusSucceeded, st.Status)

	require.NoError(t, store.Create(ctx, "run-bad"))
	require.NoError(t, store.MarkFailed(ctx, "run-bad", "health check failed"))
	st, err = store.Get(ctx, "run-bad")
	require.NoError(t, err)
	require.Equal(t, workflow.RunStatusFailed, st.Status)
	require.Equal(t, "health check failed", st.FailureReason)
}

func TestRunStateStore_Heartbeat(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "run1"))
	st1, err := store.Get(ctx, "run1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.Heartbeat(ctx, "run1"))
	st2, err := store.Get(ctx, "run1")
	require.NoError(t, err)
	require.True(t, st2.LastHeartbeatAt.After(st1.LastHeartbeatAt))
}

func TestRunStateStore_ListStale(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "fresh"))
	require.NoError(t, store.Create(ctx, "stale"))
	require.NoError(t, store.MarkSucceeded(ctx, "fresh")) // not running, excluded regardless of age

	require.NoError(t, store.Create(ctx, "stale-running"))

	time.Sleep(20 * time.Millisecond)
	stale, err := store.ListStale(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"stale", "stale-running"}, stale)
}

func TestRunStateStore_GetMissingRun(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
}
