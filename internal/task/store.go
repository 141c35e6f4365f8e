package task

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/roach88/stablekit/internal/codec"
	"github.com/roach88/stablekit/internal/metrics"
	"github.com/roach88/stablekit/internal/store"
)

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	clock     Clock
	ids       IDGenerator
	chunkSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// WithClock sets the time source. Default SystemClock.
func WithClock(c Clock) StoreOption {
	return func(o *storeOptions) { o.clock = c }
}

// WithIDGenerator sets the task id source. Default UUIDv7Generator.
func WithIDGenerator(g IDGenerator) StoreOption {
	return func(o *storeOptions) { o.ids = g }
}

// WithChunkSize sets the record slice size. Default store.DefaultChunkSize.
func WithChunkSize(n int) StoreOption {
	return func(o *storeOptions) { o.chunkSize = n }
}

// WithMetrics records lifecycle transitions on m.
func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(o *storeOptions) { o.metrics = m }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) StoreOption {
	return func(o *storeOptions) { o.logger = l }
}

// Stored is a record together with its task id.
type Stored[T any] struct {
	ID string
	Record[T]
}

// Store persists task records and applies lifecycle transitions.
//
// Each transition reads the record, checks the current status and writes
// the new record in one durable write. A mutex serialises transitions so
// two callers never interleave a read-modify-write on the same record.
type Store[T any] struct {
	mu sync.Mutex

	records *store.ChunkedMap
	codec   RecordCodec[T]
	clock   Clock
	ids     IDGenerator
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewStore creates a task store over region. payload encodes task bodies.
func NewStore[T any](region *store.Region, payload codec.Codec[T], opts ...StoreOption) *Store[T] {
	o := storeOptions{
		clock:     SystemClock{},
		ids:       UUIDv7Generator{},
		chunkSize: store.DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Store[T]{
		records: store.NewChunkedMap(region, o.chunkSize),
		codec:   NewRecordCodec(payload),
		clock:   o.clock,
		ids:     o.ids,
		metrics: o.metrics,
		logger:  o.logger,
	}
}

// Clock returns the store's time source.
func (s *Store[T]) Clock() Clock {
	return s.clock
}

func (s *Store[T]) load(ctx context.Context, id string) (Record[T], bool, error) {
	var r Record[T]
	b, ok, err := s.records.Get(ctx, []byte(id))
	if err != nil || !ok {
		return r, false, err
	}
	r, err = s.codec.Decode(b)
	if err != nil {
		return r, false, &store.SerializationError{Key: []byte(id), Err: err}
	}
	return r, true, nil
}

func (s *Store[T]) save(ctx context.Context, id string, r Record[T]) error {
	b, err := s.codec.Encode(r)
	if err != nil {
		return err
	}
	_, err = s.records.Insert(ctx, []byte(id), b)
	return err
}

// Enqueue persists st as a Waiting record stamped now and returns its id.
func (s *Store[T]) Enqueue(ctx context.Context, st ScheduledTask[T]) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.ids.Generate()
	now := s.clock.NowSecs()
	if err := s.save(ctx, id, NewRecord(st, Waiting(now))); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	s.metrics.TaskTransition(metrics.TransitionEnqueued)
	s.logger.Debug("task enqueued",
		"id", id,
		"execute_after", st.Options.ExecuteAfterSecs,
		"retry", st.Options.RetryStrategy.Retry.String(),
	)
	return id, nil
}

// Get returns the record stored under id.
func (s *Store[T]) Get(ctx context.Context, id string) (Record[T], bool, error) {
	r, ok, err := s.load(ctx, id)
	if err != nil {
		return r, false, fmt.Errorf("get task: %w", err)
	}
	return r, ok, nil
}

// List returns every stored task in ascending id order. An undecodable
// record is reported as an error and iteration stops.
func (s *Store[T]) List(ctx context.Context) iter.Seq2[Stored[T], error] {
	return func(yield func(Stored[T], error) bool) {
		for key, err := range s.records.Keys(ctx) {
			if err != nil {
				yield(Stored[T]{}, fmt.Errorf("list tasks: %w", err))
				return
			}
			id := string(key)
			r, ok, err := s.load(ctx, id)
			if err != nil {
				yield(Stored[T]{}, fmt.Errorf("list tasks: %w", err))
				return
			}
			if !ok {
				// Removed between the key scan and the load
				continue
			}
			if !yield(Stored[T]{ID: id, Record: r}, nil) {
				return
			}
		}
	}
}

// Len returns the number of stored tasks.
func (s *Store[T]) Len(ctx context.Context) (uint64, error) {
	n, err := s.records.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// SelectEligible moves up to limit Waiting tasks with
// ExecuteAfterSecs <= now to SelectedForExecution and returns them.
// A limit <= 0 selects every eligible task. Undecodable records are
// logged and skipped.
func (s *Store[T]) SelectEligible(ctx context.Context, now uint64, limit int) ([]Stored[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for key, err := range s.records.Keys(ctx) {
		if err != nil {
			return nil, fmt.Errorf("select tasks: %w", err)
		}
		ids = append(ids, string(key))
	}

	var selected []Stored[T]
	for _, id := range ids {
		if limit > 0 && len(selected) >= limit {
			break
		}
		r, ok, err := s.load(ctx, id)
		if store.IsSerializationError(err) {
			s.logger.Error("skipping undecodable task record", "id", id, "error", err)
			continue
		}
		if err != nil {
			return selected, fmt.Errorf("select tasks: %w", err)
		}
		if !ok || !r.Eligible(now) {
			continue
		}
		r.Status = SelectedForExecution(now)
		if err := s.save(ctx, id, r); err != nil {
			return selected, fmt.Errorf("select task %s: %w", id, err)
		}
		s.metrics.TaskTransition(metrics.TransitionSelected)
		selected = append(selected, Stored[T]{ID: id, Record: r})
	}
	return selected, nil
}

// MarkRunning moves a SelectedForExecution task to Running stamped now.
// The write is durable before MarkRunning returns, so the task body may
// run afterwards.
func (s *Store[T]) MarkRunning(ctx context.Context, id string, now uint64) (Record[T], bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok, err := s.load(ctx, id)
	if err != nil || !ok {
		return r, false, wrapOp("mark task running", err)
	}
	if r.Status.Kind != StatusSelected {
		return r, true, &TransitionError{ID: id, From: r.Status.Kind, To: StatusRunning.String()}
	}
	r.Status = Running(now)
	if err := s.save(ctx, id, r); err != nil {
		return r, true, fmt.Errorf("mark task running: %w", err)
	}
	s.metrics.TaskTransition(metrics.TransitionRunning)
	return r, true, nil
}

// Complete deletes a Running task after a successful execution.
func (s *Store[T]) Complete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok, err := s.load(ctx, id)
	if err != nil || !ok {
		return false, wrapOp("complete task", err)
	}
	if r.Status.Kind != StatusRunning {
		return true, &TransitionError{ID: id, From: r.Status.Kind, To: "completed"}
	}
	if _, err := s.records.Remove(ctx, []byte(id)); err != nil {
		return true, fmt.Errorf("complete task: %w", err)
	}
	s.metrics.TaskTransition(metrics.TransitionCompleted)
	return true, nil
}

// Fail records a failed execution of a Running task at now.
//
// If the retry policy allows it, the task returns to Waiting with
// Failures incremented and ExecuteAfterSecs = now + backoff, and the
// updated record is returned. Otherwise the record is deleted and a
// *RetryExhaustedError wrapping cause is returned.
func (s *Store[T]) Fail(ctx context.Context, id string, now uint64, cause error) (Record[T], bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok, err := s.load(ctx, id)
	if err != nil || !ok {
		return r, false, wrapOp("fail task", err)
	}
	if r.Status.Kind != StatusRunning {
		return r, true, &TransitionError{ID: id, From: r.Status.Kind, To: "failed"}
	}
	r, err = s.failLocked(ctx, id, r, now, cause)
	return r, true, err
}

// failLocked applies the retry path to r. Callers hold s.mu.
func (s *Store[T]) failLocked(ctx context.Context, id string, r Record[T], now uint64, cause error) (Record[T], error) {
	policy := r.Options.RetryStrategy.Retry
	if !policy.Allows(r.Options.Failures) {
		if _, err := s.records.Remove(ctx, []byte(id)); err != nil {
			return r, fmt.Errorf("drop task: %w", err)
		}
		s.metrics.TaskTransition(metrics.TransitionDropped)
		s.logger.Warn("task dropped, retries exhausted",
			"id", id,
			"failures", r.Options.Failures+1,
			"retry", policy.String(),
		)
		return r, &RetryExhaustedError{ID: id, Failures: r.Options.Failures + 1, Policy: policy, Cause: cause}
	}

	r.Options = r.Options.afterFailure(now)
	r.Status = Waiting(now)
	if err := s.save(ctx, id, r); err != nil {
		return r, fmt.Errorf("requeue task: %w", err)
	}
	s.metrics.TaskTransition(metrics.TransitionRetried)
	s.logger.Info("task requeued",
		"id", id,
		"failures", r.Options.Failures,
		"execute_after", r.Options.ExecuteAfterSecs,
	)
	return r, nil
}

// RecoverReport summarises a recovery sweep.
type RecoverReport struct {
	// Requeued lists tasks returned to Waiting.
	Requeued []string

	// Dropped lists tasks whose retry policy forbade another attempt.
	Dropped []string

	// Reselected lists SelectedForExecution tasks returned to Waiting
	// without a counted failure.
	Reselected []string
}

// Recover reclaims executions interrupted by a restart, considering only
// tasks whose status timestamp is at least staleAfter seconds before now.
// A stale Running task is treated as a failed execution: it is requeued or
// dropped per its retry policy. A stale SelectedForExecution task never
// started its body, so it goes back to Waiting with its failure count and
// eligibility time unchanged. Waiting tasks are never touched.
func (s *Store[T]) Recover(ctx context.Context, now, staleAfter uint64) (RecoverReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report RecoverReport
	var ids []string
	for key, err := range s.records.Keys(ctx) {
		if err != nil {
			return report, fmt.Errorf("recover tasks: %w", err)
		}
		ids = append(ids, string(key))
	}

	for _, id := range ids {
		r, ok, err := s.load(ctx, id)
		if store.IsSerializationError(err) {
			s.logger.Error("skipping undecodable task record", "id", id, "error", err)
			continue
		}
		if err != nil {
			return report, fmt.Errorf("recover tasks: %w", err)
		}
		if !ok || r.Status.Kind == StatusWaiting {
			continue
		}
		if r.Status.TimestampSecs > now || now-r.Status.TimestampSecs < staleAfter {
			continue
		}

		s.logger.Warn("recovering interrupted task",
			"id", id,
			"status", r.Status.String(),
		)
		s.metrics.TaskTransition(metrics.TransitionRecovered)
		if r.Status.Kind == StatusSelected {
			r.Status = Waiting(now)
			if err := s.save(ctx, id, r); err != nil {
				return report, fmt.Errorf("reselect task %s: %w", id, err)
			}
			report.Reselected = append(report.Reselected, id)
			continue
		}
		_, err = s.failLocked(ctx, id, r, now, nil)
		switch {
		case IsRetryExhausted(err):
			report.Dropped = append(report.Dropped, id)
		case err != nil:
			return report, err
		default:
			report.Requeued = append(report.Requeued, id)
		}
	}
	return report, nil
}

// Delete removes a task regardless of its status.
func (s *Store[T]) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.records.Remove(ctx, []byte(id))
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	return ok, nil
}

func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
