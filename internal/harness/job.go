package harness

import (
	"context"
	"fmt"

	"github.com/roach88/stablekit/internal/task"
)

// job is the scripted task payload.
type job struct {
	Name      string   `json:"name"`
	FailTimes int      `json:"fail_times,omitempty"`
	Panic     bool     `json:"panic,omitempty"`
	Spawn     []string `json:"spawn,omitempty"`
}

type attemptsKey struct{}

// attempts counts executions per job name within one scenario.
type attempts map[string]int

func withAttempts(ctx context.Context, a attempts) context.Context {
	return context.WithValue(ctx, attemptsKey{}, a)
}

// Execute implements task.Task.
func (j job) Execute(ctx context.Context, sched task.Scheduler[job]) error {
	a, _ := ctx.Value(attemptsKey{}).(attempts)
	n := 1
	if a != nil {
		a[j.Name]++
		n = a[j.Name]
	}

	if j.Panic {
		panic(fmt.Sprintf("job %s panicked", j.Name))
	}
	if n <= j.FailTimes {
		return fmt.Errorf("job %s failed on attempt %d", j.Name, n)
	}
	for _, name := range j.Spawn {
		if _, err := sched.Enqueue(ctx, task.NewScheduled(job{Name: name})); err != nil {
			return fmt.Errorf("spawn %s: %w", name, err)
		}
	}
	return nil
}

// options converts the scenario spec into task options.
func (s *TaskSpec) options() task.Options {
	o := task.NewOptions().WithExecuteAfter(s.After)
	if s.Retry != nil {
		switch {
		case s.Retry.Infinite:
			o = o.WithRetryPolicy(task.InfiniteRetry())
		case s.Retry.Max != nil:
			o = o.WithMaxRetries(*s.Retry.Max)
		}
	}
	if b := s.Backoff; b != nil {
		switch {
		case b.None:
			o = o.WithBackoffPolicy(task.NoBackoff())
		case b.Fixed != nil:
			o = o.WithFixedBackoff(*b.Fixed)
		case b.Exponential != nil:
			o = o.WithBackoffPolicy(task.ExponentialBackoff(b.Exponential.Secs, b.Exponential.Multiplier))
		case b.Variable != nil:
			o = o.WithBackoffPolicy(task.VariableBackoff(b.Variable...))
		}
	}
	return o
}

func (s *TaskSpec) job() job {
	return job{Name: s.Name, FailTimes: s.FailTimes, Panic: s.Panic, Spawn: s.Spawn}
}
