package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/stablekit/internal/metrics"
)

// capability is the Scheduler handed to running tasks. It exposes Enqueue
// and nothing else of the store.
type capability[T any] struct {
	store *Store[T]
}

func (c capability[T]) Enqueue(ctx context.Context, st ScheduledTask[T]) (string, error) {
	return c.store.Enqueue(ctx, st)
}

// SchedulerFor returns a Scheduler that enqueues into s.
func SchedulerFor[T any](s *Store[T]) Scheduler[T] {
	return capability[T]{store: s}
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// WithBatchSize bounds how many tasks one RunOnce pass selects.
// Zero (the default) selects every eligible task.
func WithBatchSize(n int) RuntimeOption {
	return func(o *runtimeOptions) { o.batchSize = n }
}

// WithRuntimeMetrics records execution errors on m.
func WithRuntimeMetrics(m *metrics.Metrics) RuntimeOption {
	return func(o *runtimeOptions) { o.metrics = m }
}

// WithRuntimeLogger sets the logger. Default slog.Default().
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOptions) { o.logger = l }
}

// RunReport summarises one RunOnce pass.
type RunReport struct {
	Selected  int
	Completed int
	Retried   int
	Dropped   int

	// Failures holds the ExecutionError of every failed task, in
	// execution order.
	Failures []error
}

// Runtime executes eligible tasks. It has no polling loop: the host calls
// RunOnce whenever it wants a pass.
type Runtime[T Task[T]] struct {
	store     *Store[T]
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewRuntime creates a runtime executing tasks from s.
func NewRuntime[T Task[T]](s *Store[T], opts ...RuntimeOption) *Runtime[T] {
	var o runtimeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Runtime[T]{store: s, batchSize: o.batchSize, metrics: o.metrics, logger: o.logger}
}

// RunOnce performs one pass:
//  1. Select eligible Waiting tasks (durably SelectedForExecution)
//  2. For each: durably mark Running, then execute the body
//  3. Complete on success, or apply the retry path on failure
//
// Task failures are reported in the RunReport, not as an error. RunOnce
// returns an error only when the store fails; tasks already processed in
// the pass keep their new state.
func (rt *Runtime[T]) RunOnce(ctx context.Context) (RunReport, error) {
	var report RunReport
	clock := rt.store.Clock()

	selected, err := rt.store.SelectEligible(ctx, clock.NowSecs(), rt.batchSize)
	report.Selected = len(selected)
	if err != nil {
		return report, err
	}

	sched := SchedulerFor(rt.store)
	for _, st := range selected {
		if err := ctx.Err(); err != nil {
			// Remaining tasks stay SelectedForExecution; Recover reclaims them.
			return report, fmt.Errorf("run tasks: %w", err)
		}

		r, ok, err := rt.store.MarkRunning(ctx, st.ID, clock.NowSecs())
		if err != nil {
			return report, err
		}
		if !ok {
			continue
		}

		rt.logger.Debug("executing task", "id", st.ID, "failures", r.Options.Failures)
		if execErr := execute(ctx, st.ID, r.Task, sched); execErr != nil {
			report.Failures = append(report.Failures, execErr)
			rt.metrics.TaskExecutionError()
			rt.logger.Info("task execution failed", "id", st.ID, "error", execErr)

			_, _, err := rt.store.Fail(ctx, st.ID, clock.NowSecs(), execErr)
			switch {
			case IsRetryExhausted(err):
				report.Dropped++
			case err != nil:
				return report, err
			default:
				report.Retried++
			}
			continue
		}

		if _, err := rt.store.Complete(ctx, st.ID); err != nil {
			return report, err
		}
		report.Completed++
	}
	return report, nil
}

// execute runs the task body, converting a panic into an ExecutionError.
func execute[T Task[T]](ctx context.Context, id string, t T, sched Scheduler[T]) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ExecutionError{ID: id, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if err := t.Execute(ctx, sched); err != nil {
		var ee *ExecutionError
		if errors.As(err, &ee) {
			return err
		}
		return &ExecutionError{ID: id, Err: err}
	}
	return nil
}
