// Package multimap implements a durable two-level map (outer key -> inner
// key -> value) and a write-through cache in front of it.
//
// The durable map stores each entry under the composite key
//
//	uvarint(len(enc(k1))) | enc(k1) | enc(k2)
//
// so every entry of one outer key shares a prefix and RemovePartial is a
// single range delete.
package multimap

import (
	"context"
	"fmt"
	"iter"

	"github.com/roach88/stablekit/internal/codec"
	"github.com/roach88/stablekit/internal/store"
)

// Option configures a Multimap.
type Option func(*options)

type options struct {
	limits store.Limits
}

// WithMaxKeySize bounds the encoded composite key size.
func WithMaxKeySize(n int) Option {
	return func(o *options) {
		o.limits.MaxKeySize = n
	}
}

// WithMaxValueSize bounds the encoded value size.
func WithMaxValueSize(n int) Option {
	return func(o *options) {
		o.limits.MaxValueSize = n
	}
}

// Item is one entry of the map.
type Item[K1, K2, V any] struct {
	Outer K1
	Inner K2
	Value V
}

// Multimap is a durable two-level map over one store region.
type Multimap[K1, K2, V any] struct {
	region *store.Region
	k1     codec.Codec[K1]
	k2     codec.Codec[K2]
	v      codec.Codec[V]
	limits store.Limits
}

// New creates a durable map over region.
func New[K1, K2, V any](region *store.Region, k1 codec.Codec[K1], k2 codec.Codec[K2], v codec.Codec[V], opts ...Option) *Multimap[K1, K2, V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Multimap[K1, K2, V]{region: region, k1: k1, k2: k2, v: v, limits: o.limits}
}

func (m *Multimap[K1, K2, V]) outerPrefix(k1 K1) ([]byte, error) {
	b, err := m.k1.Encode(k1)
	if err != nil {
		return nil, fmt.Errorf("encode outer key: %w", err)
	}
	return store.AppendLenPrefixed(nil, b), nil
}

func (m *Multimap[K1, K2, V]) key(k1 K1, k2 K2) ([]byte, error) {
	prefix, err := m.outerPrefix(k1)
	if err != nil {
		return nil, err
	}
	b, err := m.k2.Encode(k2)
	if err != nil {
		return nil, fmt.Errorf("encode inner key: %w", err)
	}
	return append(prefix, b...), nil
}

func (m *Multimap[K1, K2, V]) decodeValue(key, b []byte) (V, error) {
	v, err := m.v.Decode(b)
	if err != nil {
		return v, &store.SerializationError{Key: key, Err: err}
	}
	return v, nil
}

// Insert stores value and returns the previous value, if any.
func (m *Multimap[K1, K2, V]) Insert(ctx context.Context, k1 K1, k2 K2, value V) (V, bool, error) {
	var zero V
	key, err := m.key(k1, k2)
	if err != nil {
		return zero, false, fmt.Errorf("multimap insert: %w", err)
	}
	b, err := m.v.Encode(value)
	if err != nil {
		return zero, false, fmt.Errorf("multimap insert: encode value: %w", err)
	}
	if err := m.limits.Check(key, b); err != nil {
		return zero, false, fmt.Errorf("multimap insert: %w", err)
	}

	prev, existed, err := m.region.Insert(ctx, key, b)
	if err != nil {
		return zero, false, fmt.Errorf("multimap insert: %w", err)
	}
	if !existed {
		return zero, false, nil
	}
	old, err := m.decodeValue(key, prev)
	if err != nil {
		return zero, true, err
	}
	return old, true, nil
}

// Get returns the value stored under (k1, k2).
func (m *Multimap[K1, K2, V]) Get(ctx context.Context, k1 K1, k2 K2) (V, bool, error) {
	var zero V
	key, err := m.key(k1, k2)
	if err != nil {
		return zero, false, fmt.Errorf("multimap get: %w", err)
	}
	b, ok, err := m.region.Get(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("multimap get: %w", err)
	}
	if !ok {
		return zero, false, nil
	}
	v, err := m.decodeValue(key, b)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Remove deletes (k1, k2) and returns the removed value, if any.
func (m *Multimap[K1, K2, V]) Remove(ctx context.Context, k1 K1, k2 K2) (V, bool, error) {
	var zero V
	key, err := m.key(k1, k2)
	if err != nil {
		return zero, false, fmt.Errorf("multimap remove: %w", err)
	}
	prev, existed, err := m.region.Remove(ctx, key)
	if err != nil {
		return zero, false, fmt.Errorf("multimap remove: %w", err)
	}
	if !existed {
		return zero, false, nil
	}
	old, err := m.decodeValue(key, prev)
	if err != nil {
		return zero, true, err
	}
	return old, true, nil
}

// RemovePartial deletes every entry whose outer key is k1 and reports
// whether anything was deleted.
func (m *Multimap[K1, K2, V]) RemovePartial(ctx context.Context, k1 K1) (bool, error) {
	prefix, err := m.outerPrefix(k1)
	if err != nil {
		return false, fmt.Errorf("multimap remove_partial: %w", err)
	}
	changed, err := m.region.RemovePrefix(ctx, prefix)
	if err != nil {
		return false, fmt.Errorf("multimap remove_partial: %w", err)
	}
	return changed, nil
}

// Range returns the entries of outer key k1 in ascending inner-key
// encoding order.
func (m *Multimap[K1, K2, V]) Range(ctx context.Context, k1 K1) iter.Seq2[Item[K1, K2, V], error] {
	return func(yield func(Item[K1, K2, V], error) bool) {
		prefix, err := m.outerPrefix(k1)
		if err != nil {
			yield(Item[K1, K2, V]{}, fmt.Errorf("multimap range: %w", err))
			return
		}
		m.scan(ctx, prefix, yield)
	}
}

// All returns every entry in ascending composite-key order.
func (m *Multimap[K1, K2, V]) All(ctx context.Context) iter.Seq2[Item[K1, K2, V], error] {
	return func(yield func(Item[K1, K2, V], error) bool) {
		m.scan(ctx, nil, yield)
	}
}

func (m *Multimap[K1, K2, V]) scan(ctx context.Context, prefix []byte, yield func(Item[K1, K2, V], error) bool) {
	for e, err := range m.region.Prefix(ctx, prefix) {
		if err != nil {
			yield(Item[K1, K2, V]{}, fmt.Errorf("multimap iter: %w", err))
			return
		}
		item, err := m.decodeItem(e)
		if err != nil {
			yield(Item[K1, K2, V]{}, err)
			return
		}
		if !yield(item, nil) {
			return
		}
	}
}

func (m *Multimap[K1, K2, V]) decodeItem(e store.Entry) (Item[K1, K2, V], error) {
	var item Item[K1, K2, V]
	outer, inner, ok := store.ReadLenPrefixed(e.Key)
	if !ok {
		return item, &store.SerializationError{Key: e.Key, Err: fmt.Errorf("malformed composite key")}
	}
	var err error
	if item.Outer, err = m.k1.Decode(outer); err != nil {
		return item, &store.SerializationError{Key: e.Key, Err: err}
	}
	if item.Inner, err = m.k2.Decode(inner); err != nil {
		return item, &store.SerializationError{Key: e.Key, Err: err}
	}
	if item.Value, err = m.decodeValue(e.Key, e.Value); err != nil {
		return item, err
	}
	return item, nil
}

// Len returns the total number of (k1, k2) entries.
func (m *Multimap[K1, K2, V]) Len(ctx context.Context) (uint64, error) {
	n, err := m.region.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("multimap len: %w", err)
	}
	return n, nil
}

// IsEmpty reports whether the map holds no entries.
func (m *Multimap[K1, K2, V]) IsEmpty(ctx context.Context) (bool, error) {
	empty, err := m.region.IsEmpty(ctx)
	if err != nil {
		return false, fmt.Errorf("multimap is_empty: %w", err)
	}
	return empty, nil
}

// Clear deletes every entry.
func (m *Multimap[K1, K2, V]) Clear(ctx context.Context) error {
	if err := m.region.Clear(ctx); err != nil {
		return fmt.Errorf("multimap clear: %w", err)
	}
	return nil
}
