// Package stablevec implements a durable growable array with one
// independent instance per caller identity.
//
// The caller identity is taken from the context (see package identity).
// Each identity's array lives in its own sub-region of the vector's region
// and is created lazily by the first mutating call. Reads under an identity
// that never wrote see an empty vector and leave no trace in the store.
//
// Layout inside an identity's sub-region:
//
//	0x00             -> uint64 BE length
//	0x01 | uint64 BE -> encoded element
package stablevec

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/roach88/stablekit/internal/codec"
	"github.com/roach88/stablekit/internal/identity"
	"github.com/roach88/stablekit/internal/store"
)

var (
	lenKey     = []byte{0x00}
	elemPrefix = []byte{0x01}
)

// IndexError is returned by Set when index is past the end of the vector.
type IndexError struct {
	Index uint64
	Len   uint64
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("index out of range: index %d, len %d", e.Index, e.Len)
}

// IsIndexError returns true if the error is an IndexError.
func IsIndexError(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie)
}

// Option configures a Vec.
type Option func(*options)

type options struct {
	maxValueSize int
}

// WithMaxValueSize bounds the encoded size of an element.
func WithMaxValueSize(n int) Option {
	return func(o *options) {
		o.maxValueSize = n
	}
}

// Vec is an identity-scoped growable array of T.
//
// Thread-safety: the identity table is guarded by a mutex. Element
// operations for the same identity must not run concurrently.
type Vec[T any] struct {
	region *store.Region
	codec  codec.Codec[T]
	limits store.Limits

	mu    sync.Mutex
	inner map[identity.ID]*store.Region
}

// New creates a vector over region. No per-identity storage is allocated.
func New[T any](region *store.Region, c codec.Codec[T], opts ...Option) *Vec[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Vec[T]{
		region: region,
		codec:  c,
		limits: store.Limits{MaxValueSize: o.maxValueSize},
		inner:  make(map[identity.ID]*store.Region),
	}
}

// view returns the caller's array for reading. It never records the
// identity, so reads have no side effect.
func (v *Vec[T]) view(ctx context.Context) *store.Region {
	id := identity.From(ctx)
	v.mu.Lock()
	defer v.mu.Unlock()
	if r, ok := v.inner[id]; ok {
		return r
	}
	return v.region.Sub([]byte(id))
}

// materialize returns the caller's array, creating it on first use.
func (v *Vec[T]) materialize(ctx context.Context) *store.Region {
	id := identity.From(ctx)
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.inner[id]
	if !ok {
		r = v.region.Sub([]byte(id))
		v.inner[id] = r
	}
	return r
}

func elemKey(index uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, elemPrefix...), index)
}

func encodeLen(n uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, n)
}

func readLen(ctx context.Context, r *store.Region) (uint64, error) {
	b, ok, err := r.Get(ctx, lenKey)
	if err != nil || !ok {
		return 0, err
	}
	if len(b) != 8 {
		return 0, &store.SerializationError{Key: lenKey, Err: fmt.Errorf("length record is %d bytes", len(b))}
	}
	return binary.BigEndian.Uint64(b), nil
}

// Len returns the number of elements in the caller's vector.
func (v *Vec[T]) Len(ctx context.Context) (uint64, error) {
	n, err := readLen(ctx, v.view(ctx))
	if err != nil {
		return 0, fmt.Errorf("vec len: %w", err)
	}
	return n, nil
}

// IsEmpty reports whether the caller's vector has no elements.
func (v *Vec[T]) IsEmpty(ctx context.Context) (bool, error) {
	n, err := v.Len(ctx)
	return n == 0, err
}

// Get returns the element at index. ok is false when index is out of range.
func (v *Vec[T]) Get(ctx context.Context, index uint64) (T, bool, error) {
	var zero T
	r := v.view(ctx)
	n, err := readLen(ctx, r)
	if err != nil {
		return zero, false, fmt.Errorf("vec get: %w", err)
	}
	if index >= n {
		return zero, false, nil
	}
	return v.decodeAt(ctx, r, index)
}

func (v *Vec[T]) decodeAt(ctx context.Context, r *store.Region, index uint64) (T, bool, error) {
	var zero T
	key := elemKey(index)
	b, ok, err := r.Get(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("vec get: %w", err)
	}
	if !ok {
		return zero, false, &store.SerializationError{Key: key, Err: fmt.Errorf("element %d missing", index)}
	}
	elem, err := v.codec.Decode(b)
	if err != nil {
		return zero, false, &store.SerializationError{Key: key, Err: err}
	}
	return elem, true, nil
}

func (v *Vec[T]) encode(item T) ([]byte, error) {
	b, err := v.codec.Encode(item)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if err := v.limits.Check(nil, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Set writes item at index. An index equal to the length appends; an index
// past the length returns *IndexError.
func (v *Vec[T]) Set(ctx context.Context, index uint64, item T) error {
	b, err := v.encode(item)
	if err != nil {
		return fmt.Errorf("vec set: %w", err)
	}
	r := v.materialize(ctx)
	n, err := readLen(ctx, r)
	if err != nil {
		return fmt.Errorf("vec set: %w", err)
	}
	if index > n {
		return &IndexError{Index: index, Len: n}
	}
	err = r.Apply(ctx, func(batch store.Batch) error {
		if err := batch.Set(elemKey(index), b); err != nil {
			return err
		}
		if index == n {
			return batch.Set(lenKey, encodeLen(n+1))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("vec set: %w", err)
	}
	return nil
}

// Push appends item to the caller's vector.
func (v *Vec[T]) Push(ctx context.Context, item T) error {
	b, err := v.encode(item)
	if err != nil {
		return fmt.Errorf("vec push: %w", err)
	}
	r := v.materialize(ctx)
	n, err := readLen(ctx, r)
	if err != nil {
		return fmt.Errorf("vec push: %w", err)
	}
	err = r.Apply(ctx, func(batch store.Batch) error {
		if err := batch.Set(elemKey(n), b); err != nil {
			return err
		}
		return batch.Set(lenKey, encodeLen(n+1))
	})
	if err != nil {
		return fmt.Errorf("vec push: %w", err)
	}
	return nil
}

// Pop removes and returns the last element. ok is false when the vector
// is empty.
func (v *Vec[T]) Pop(ctx context.Context) (T, bool, error) {
	var zero T
	r := v.view(ctx)
	n, err := readLen(ctx, r)
	if err != nil {
		return zero, false, fmt.Errorf("vec pop: %w", err)
	}
	if n == 0 {
		return zero, false, nil
	}

	key := elemKey(n - 1)
	b, _, err := r.Get(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("vec pop: %w", err)
	}
	err = r.Apply(ctx, func(batch store.Batch) error {
		if err := batch.Delete(key); err != nil {
			return err
		}
		return batch.Set(lenKey, encodeLen(n-1))
	})
	if err != nil {
		return zero, false, fmt.Errorf("vec pop: %w", err)
	}

	elem, err := v.codec.Decode(b)
	if err != nil {
		return zero, false, &store.SerializationError{Key: key, Err: err}
	}
	return elem, true, nil
}

// Clear empties the caller's vector. Other identities are unaffected.
func (v *Vec[T]) Clear(ctx context.Context) error {
	id := identity.From(ctx)
	v.mu.Lock()
	r, ok := v.inner[id]
	v.mu.Unlock()
	if !ok {
		r = v.region.Sub([]byte(id))
	}
	if err := r.Clear(ctx); err != nil {
		return fmt.Errorf("vec clear: %w", err)
	}
	return nil
}

// All returns a lazy, restartable sequence of the caller's elements in
// index order. The length is read once when iteration starts.
func (v *Vec[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		r := v.view(ctx)
		n, err := readLen(ctx, r)
		if err != nil {
			yield(zero, fmt.Errorf("vec iter: %w", err))
			return
		}
		for i := uint64(0); i < n; i++ {
			elem, ok, err := v.decodeAt(ctx, r, i)
			if err != nil {
				yield(zero, err)
				return
			}
			if !ok || !yield(elem, nil) {
				return
			}
		}
	}
}

// ToSlice collects the caller's elements.
func (v *Vec[T]) ToSlice(ctx context.Context) ([]T, error) {
	var out []T
	for elem, err := range v.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, elem)
	}
	return out, nil
}

// Identities returns, sorted, the identities that have written to this
// vector since it was created.
func (v *Vec[T]) Identities() []identity.ID {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]identity.ID, 0, len(v.inner))
	for id := range v.inner {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
