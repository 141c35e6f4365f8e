// Package stablelog implements a durable, deduplicating append log.
//
// Each value is stored as a key (its encoding) with an empty value. This
// gives deduplication for free: pushing an equal value again overwrites the
// marker and leaves the length unchanged.
//
// The log is ordered by the byte order of the encoded value, NOT by
// insertion order. PopFront removes the smallest encoding and PopBack the
// largest, whatever order they were pushed in. Callers that need
// chronological order must choose a codec whose encoding is monotonic in
// insertion order (for example a big-endian sequence number).
package stablelog

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/roach88/stablekit/internal/codec"
	"github.com/roach88/stablekit/internal/store"
)

// Option configures a Log.
type Option func(*options)

type options struct {
	maxKeySize int
	logger     *slog.Logger
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMaxKeySize bounds the encoded size of a pushed value.
// Zero (the default) means unbounded.
func WithMaxKeySize(n int) Option {
	return func(o *options) {
		o.maxKeySize = n
	}
}

// Log is a deduplicating sequence of T over one store region.
//
// Thread-safety: Log holds no in-memory state; concurrent use is as safe
// as the underlying backend.
type Log[T any] struct {
	region *store.Region
	codec  codec.Codec[T]
	limits store.Limits
	logger *slog.Logger
}

// New creates a log over region. The region may already hold entries
// from a previous run.
func New[T any](region *store.Region, c codec.Codec[T], opts ...Option) *Log[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Log[T]{
		region: region,
		codec:  c,
		limits: store.Limits{MaxKeySize: o.maxKeySize},
		logger: o.logger,
	}
}

// FromSlice creates a log over region and pushes every element of values.
func FromSlice[T any](ctx context.Context, region *store.Region, c codec.Codec[T], values []T, opts ...Option) (*Log[T], error) {
	l := New(region, c, opts...)
	for _, v := range values {
		if err := l.Push(ctx, v); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Push inserts v. Pushing a value whose encoding is already present is a
// no-op for length purposes.
func (l *Log[T]) Push(ctx context.Context, v T) error {
	key, err := l.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("log push: encode: %w", err)
	}
	if err := l.limits.Check(key, nil); err != nil {
		return fmt.Errorf("log push: %w", err)
	}
	if _, _, err := l.region.Insert(ctx, key, []byte{}); err != nil {
		return fmt.Errorf("log push: %w", err)
	}
	return nil
}

// PopFront removes and returns the value with the smallest encoding.
// ok is false when the log is empty.
func (l *Log[T]) PopFront(ctx context.Context) (T, bool, error) {
	return l.pop(ctx, false)
}

// PopBack removes and returns the value with the largest encoding.
// ok is false when the log is empty.
func (l *Log[T]) PopBack(ctx context.Context) (T, bool, error) {
	return l.pop(ctx, true)
}

func (l *Log[T]) pop(ctx context.Context, back bool) (T, bool, error) {
	var zero T

	var (
		e   store.Entry
		ok  bool
		err error
	)
	if back {
		e, ok, err = l.region.Last(ctx)
	} else {
		e, ok, err = l.region.First(ctx)
	}
	if err != nil {
		return zero, false, fmt.Errorf("log pop: %w", err)
	}
	if !ok {
		return zero, false, nil
	}

	if _, _, err := l.region.Remove(ctx, e.Key); err != nil {
		return zero, false, fmt.Errorf("log pop: %w", err)
	}

	// The entry is gone either way; an undecodable record must not wedge
	// the head of the log.
	v, err := l.codec.Decode(e.Key)
	if err != nil {
		l.logger.Warn("dropped undecodable log entry",
			"region", l.region.ID(),
			"key", fmt.Sprintf("%x", e.Key),
			"error", err,
		)
		return zero, false, &store.SerializationError{Key: e.Key, Err: err}
	}
	return v, true, nil
}

// Len returns the number of distinct values in the log.
func (l *Log[T]) Len(ctx context.Context) (uint64, error) {
	n, err := l.region.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("log len: %w", err)
	}
	return n, nil
}

// IsEmpty reports whether the log holds no values.
func (l *Log[T]) IsEmpty(ctx context.Context) (bool, error) {
	empty, err := l.region.IsEmpty(ctx)
	if err != nil {
		return false, fmt.Errorf("log is_empty: %w", err)
	}
	return empty, nil
}

// All returns a lazy, restartable sequence of the log's values in
// ascending encoded-byte order. Iteration stops at the first error.
func (l *Log[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for e, err := range l.region.All(ctx) {
			if err != nil {
				yield(zero, fmt.Errorf("log iter: %w", err))
				return
			}
			v, err := l.codec.Decode(e.Key)
			if err != nil {
				yield(zero, &store.SerializationError{Key: e.Key, Err: err})
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// ToSlice collects the log into a slice in ascending encoded-byte order.
func (l *Log[T]) ToSlice(ctx context.Context) ([]T, error) {
	var out []T
	for v, err := range l.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
