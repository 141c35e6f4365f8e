package task

import "context"

// Task is a unit of work. T is the concrete payload type, so a task can
// enqueue follow-up tasks of its own kind through the scheduler it is
// handed.
type Task[T any] interface {
	// Execute runs the task body. A nil error completes the task; any other
	// error sends it down the retry path.
	Execute(ctx context.Context, s Scheduler[T]) error
}

// Scheduler is the capability handed to a running task. It grants exactly
// one thing: enqueuing follow-up tasks.
type Scheduler[T any] interface {
	Enqueue(ctx context.Context, st ScheduledTask[T]) (string, error)
}

// ScheduledTask is the unpersisted form of a task used at enqueue time.
type ScheduledTask[T any] struct {
	Task    T
	Options Options
}

// NewScheduled wraps task with the default options.
func NewScheduled[T any](task T) ScheduledTask[T] {
	return ScheduledTask[T]{Task: task, Options: NewOptions()}
}

// WithOptions wraps task with options.
func WithOptions[T any](task T, options Options) ScheduledTask[T] {
	return ScheduledTask[T]{Task: task, Options: options}
}

// Record is the durable form of a task: payload, options and status are
// always stored together.
type Record[T any] struct {
	Task    T
	Options Options
	Status  Status
}

// NewRecord builds a record from st with the given status.
func NewRecord[T any](st ScheduledTask[T], status Status) Record[T] {
	return Record[T]{Task: st.Task, Options: st.Options, Status: status}
}

// Eligible reports whether the record is Waiting and due at now.
func (r Record[T]) Eligible(now uint64) bool {
	return r.Status.Kind == StatusWaiting && r.Options.ExecuteAfterSecs <= now
}
