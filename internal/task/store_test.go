package task

import (
	"context"
	"strings"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stablekit/internal/metrics"
	"github.com/roach88/stablekit/internal/store"
)

func TestStore_EnqueuePersistsWaiting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Enqueue(ctx, WithOptions(job{Name: "a"}, NewOptions().WithExecuteAfter(5)))
	require.NoError(t, err)
	assert.Equal(t, "task-0001", id)

	r, ok, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job{Name: "a"}, r.Task)
	assert.Equal(t, Waiting(startTime), r.Status)
	assert.Equal(t, uint64(5), r.Options.ExecuteAfterSecs)

	_, ok, err = f.store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ListInEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, name := range []string{"a", "b", "c"} {
		_, err := f.store.Enqueue(ctx, NewScheduled(job{Name: name}))
		require.NoError(t, err)
	}

	var names []string
	for st, err := range f.store.List(ctx) {
		require.NoError(t, err)
		names = append(names, st.ID+"="+st.Task.Name)
	}
	assert.Equal(t, []string{"task-0001=a", "task-0002=b", "task-0003=c"}, names)

	n, err := f.store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestStore_SelectEligible(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	due, err := f.store.Enqueue(ctx, NewScheduled(job{Name: "due"}))
	require.NoError(t, err)
	exact, err := f.store.Enqueue(ctx, WithOptions(job{Name: "exact"}, NewOptions().WithExecuteAfter(startTime)))
	require.NoError(t, err)
	later, err := f.store.Enqueue(ctx, WithOptions(job{Name: "later"}, NewOptions().WithExecuteAfter(startTime+1)))
	require.NoError(t, err)

	selected, err := f.store.SelectEligible(ctx, startTime, 0)
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, due, selected[0].ID)
	assert.Equal(t, exact, selected[1].ID)
	assert.Equal(t, SelectedForExecution(startTime), selected[0].Status)

	// The transition is durable
	r, _, err := f.store.Get(ctx, due)
	require.NoError(t, err)
	assert.Equal(t, StatusSelected, r.Status.Kind)

	// Selected tasks are not selected again
	selected, err = f.store.SelectEligible(ctx, startTime, 0)
	require.NoError(t, err)
	assert.Empty(t, selected)

	selected, err = f.store.SelectEligible(ctx, startTime+1, 0)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, later, selected[0].ID)
}

func TestStore_SelectEligibleLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		_, err := f.store.Enqueue(ctx, NewScheduled(job{Name: "x"}))
		require.NoError(t, err)
	}

	selected, err := f.store.SelectEligible(ctx, startTime, 2)
	require.NoError(t, err)
	assert.Len(t, selected, 2)

	selected, err = f.store.SelectEligible(ctx, startTime, 0)
	require.NoError(t, err)
	assert.Len(t, selected, 3)
}

func TestStore_TransitionsEnforceOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id, err := f.store.Enqueue(ctx, NewScheduled(job{Name: "a"}))
	require.NoError(t, err)

	// Waiting -> Running is not allowed
	_, _, err = f.store.MarkRunning(ctx, id, startTime)
	require.Error(t, err)
	assert.True(t, IsTransitionError(err))

	// Complete and Fail need Running
	_, err = f.store.Complete(ctx, id)
	assert.True(t, IsTransitionError(err))
	_, _, err = f.store.Fail(ctx, id, startTime, nil)
	assert.True(t, IsTransitionError(err))

	_, err = f.store.SelectEligible(ctx, startTime, 0)
	require.NoError(t, err)
	r, ok, err := f.store.MarkRunning(ctx, id, startTime+3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Running(startTime+3), r.Status)

	ok, err = f.store.Complete(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "completed task must be deleted")

	// Transitions of absent tasks report ok=false
	_, ok, err = f.store.MarkRunning(ctx, id, startTime)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = f.store.Complete(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

// runAndFail drives one Waiting task through select, run and fail at the
// clock's current time.
func runAndFail(t *testing.T, f *fixture, id string) (Record[job], error) {
	t.Helper()
	ctx := context.Background()
	now := f.clock.NowSecs()

	selected, err := f.store.SelectEligible(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	_, _, err = f.store.MarkRunning(ctx, id, now)
	require.NoError(t, err)

	r, ok, err := f.store.Fail(ctx, id, now, errJobFailed)
	require.True(t, ok)
	return r, err
}

func TestStore_MaxRetriesFixedBackoff(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Enqueue(ctx, WithOptions(job{Name: "a"}, NewOptions().WithMaxRetries(3).WithFixedBackoff(2)))
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		now := f.clock.NowSecs()
		r, err := runAndFail(t, f, id)
		require.NoError(t, err, "failure %d", i)
		assert.Equal(t, uint32(i), r.Options.Failures)
		assert.Equal(t, now+2, r.Options.ExecuteAfterSecs)
		assert.Equal(t, Waiting(now), r.Status)

		// Not eligible before the backoff elapses
		selected, err := f.store.SelectEligible(ctx, now+1, 0)
		require.NoError(t, err)
		assert.Empty(t, selected)

		f.clock.Advance(2)
	}

	_, err = runAndFail(t, f, id)
	require.Error(t, err)
	assert.True(t, IsRetryExhausted(err))
	assert.ErrorIs(t, err, errJobFailed)

	var re *RetryExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, uint32(4), re.Failures)
	assert.Equal(t, id, re.ID)

	_, ok, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "exhausted task must be dropped")
}

func TestStore_NoRetryDropsOnFirstFailure(t *testing.T) {
	f := newFixture(t)
	id, err := f.store.Enqueue(context.Background(), NewScheduled(job{Name: "a"}))
	require.NoError(t, err)

	_, err = runAndFail(t, f, id)
	assert.True(t, IsRetryExhausted(err))
}

func TestStore_BackoffAddsToFailureTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Scheduled far in the past; the delay counts from the failure.
	id, err := f.store.Enqueue(ctx, WithOptions(job{Name: "a"},
		NewOptions().WithRetryPolicy(InfiniteRetry()).WithBackoffPolicy(ExponentialBackoff(10, 2)).WithExecuteAfter(1)))
	require.NoError(t, err)

	r, err := runAndFail(t, f, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(startTime+10), r.Options.ExecuteAfterSecs)

	f.clock.Set(startTime + 10)
	r, err = runAndFail(t, f, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(startTime+10+20), r.Options.ExecuteAfterSecs)
}

func TestStore_Recover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	retry := NewOptions().WithMaxRetries(1).WithFixedBackoff(5)
	running, err := f.store.Enqueue(ctx, WithOptions(job{Name: "running"}, retry))
	require.NoError(t, err)
	selected, err := f.store.Enqueue(ctx, WithOptions(job{Name: "selected"}, retry.WithExecuteAfter(7)))
	require.NoError(t, err)
	noRetry, err := f.store.Enqueue(ctx, NewScheduled(job{Name: "no-retry"}))
	require.NoError(t, err)

	_, err = f.store.SelectEligible(ctx, startTime, 0)
	require.NoError(t, err)
	_, _, err = f.store.MarkRunning(ctx, running, startTime)
	require.NoError(t, err)
	_, _, err = f.store.MarkRunning(ctx, noRetry, startTime)
	require.NoError(t, err)

	waiting, err := f.store.Enqueue(ctx, NewScheduled(job{Name: "waiting"}))
	require.NoError(t, err)

	// Not stale yet
	report, err := f.store.Recover(ctx, startTime+10, 30)
	require.NoError(t, err)
	assert.Empty(t, report.Requeued)
	assert.Empty(t, report.Dropped)
	assert.Empty(t, report.Reselected)

	report, err = f.store.Recover(ctx, startTime+30, 30)
	require.NoError(t, err)
	assert.Equal(t, []string{running}, report.Requeued)
	assert.Equal(t, []string{noRetry}, report.Dropped)
	assert.Equal(t, []string{selected}, report.Reselected)

	r, _, err := f.store.Get(ctx, running)
	require.NoError(t, err)
	assert.Equal(t, Waiting(startTime+30), r.Status)
	assert.Equal(t, uint32(1), r.Options.Failures)
	assert.Equal(t, uint64(startTime+35), r.Options.ExecuteAfterSecs)

	r, _, err = f.store.Get(ctx, selected)
	require.NoError(t, err)
	assert.Equal(t, Waiting(startTime+30), r.Status)
	assert.Equal(t, uint32(0), r.Options.Failures, "a selected task never ran")
	assert.Equal(t, uint64(7), r.Options.ExecuteAfterSecs)

	r, _, err = f.store.Get(ctx, waiting)
	require.NoError(t, err)
	assert.Equal(t, Waiting(startTime), r.Status, "waiting tasks are never recovered")
}

func TestStore_RecoverKeepsSelectedTaskWithoutRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Enqueue(ctx, NewScheduled(job{Name: "a"}))
	require.NoError(t, err)
	selected, err := f.store.SelectEligible(ctx, startTime, 0)
	require.NoError(t, err)
	require.Len(t, selected, 1)

	report, err := f.store.Recover(ctx, startTime+100, 10)
	require.NoError(t, err)
	assert.Empty(t, report.Dropped)
	assert.Empty(t, report.Requeued)
	assert.Equal(t, []string{id}, report.Reselected)

	r, ok, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok, "record must survive recovery")
	assert.Equal(t, Waiting(startTime+100), r.Status)
	assert.Equal(t, uint32(0), r.Options.Failures)

	// The task runs normally on the next pass.
	again, err := f.store.SelectEligible(ctx, startTime+100, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, id, again[0].ID)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id, err := f.store.Enqueue(ctx, NewScheduled(job{Name: "a"}))
	require.NoError(t, err)

	ok, err := f.store.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.store.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_LargeRecordsAreChunked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithChunkSize(16))

	name := strings.Repeat("payload-", 100)
	id, err := f.store.Enqueue(ctx, NewScheduled(job{Name: name}))
	require.NoError(t, err)

	raw, err := f.region.Len(ctx)
	require.NoError(t, err)
	assert.Greater(t, raw, uint64(1), "record should span several slices")

	n, err := f.store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	r, ok, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, name, r.Task.Name)
}

func TestStore_UndecodableRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	good, err := f.store.Enqueue(ctx, NewScheduled(job{Name: "good"}))
	require.NoError(t, err)

	raw := store.NewChunkedMap(f.region, store.DefaultChunkSize)
	_, err = raw.Insert(ctx, []byte("task-0000-bad"), []byte{0xff, 0xff})
	require.NoError(t, err)

	_, _, err = f.store.Get(ctx, "task-0000-bad")
	require.Error(t, err)
	assert.True(t, store.IsSerializationError(err))

	// The bad record does not block the rest of the store.
	selected, err := f.store.SelectEligible(ctx, startTime, 0)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, good, selected[0].ID)

	_, _, err = f.store.MarkRunning(ctx, good, startTime)
	require.NoError(t, err)
	report, err := f.store.Recover(ctx, startTime+100, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{good}, report.Dropped)
}

func TestStore_Metrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(nil)
	f := newFixture(t, WithMetrics(m))

	id, err := f.store.Enqueue(ctx, WithOptions(job{Name: "a"}, NewOptions().WithMaxRetries(1)))
	require.NoError(t, err)
	_, err = runAndFail(t, f, id)
	require.NoError(t, err)
	f.clock.Advance(2)
	_, err = runAndFail(t, f, id)
	require.Error(t, err)

	count := func(transition string) float64 {
		return promtestutil.ToFloat64(m.TaskTransitionsTotal.WithLabelValues(transition))
	}
	assert.Equal(t, 1.0, count(metrics.TransitionEnqueued))
	assert.Equal(t, 2.0, count(metrics.TransitionSelected))
	assert.Equal(t, 2.0, count(metrics.TransitionRunning))
	assert.Equal(t, 1.0, count(metrics.TransitionRetried))
	assert.Equal(t, 1.0, count(metrics.TransitionDropped))
}
