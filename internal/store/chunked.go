package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"iter"
)

// DefaultChunkSize is the slice size used when none is configured.
const DefaultChunkSize = 128

// ChunkedMap stores values larger than a single entry may hold by splitting
// them into fixed-size slices.
//
// Slice keys are (primary key, slice index):
//
//	uvarint(len(key)) || key || uint32 BE index
//
// so slices of one record sort together in index order and never interleave
// with another record's slices. Reads concatenate slices in ascending index
// order. Writes replace all slices of a record in one atomic batch; the
// slicing is invisible to callers.
type ChunkedMap struct {
	region    *Region
	chunkSize int
}

// NewChunkedMap creates a chunked map over region. A chunkSize <= 0 uses
// DefaultChunkSize.
func NewChunkedMap(region *Region, chunkSize int) *ChunkedMap {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkedMap{region: region, chunkSize: chunkSize}
}

// ChunkSize returns the slice size in bytes.
func (m *ChunkedMap) ChunkSize() int {
	return m.chunkSize
}

func recordPrefix(key []byte) []byte {
	return AppendLenPrefixed(nil, key)
}

func chunkKey(key []byte, index uint32) []byte {
	return binary.BigEndian.AppendUint32(recordPrefix(key), index)
}

// Get reassembles the value stored under key.
func (m *ChunkedMap) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var (
		value []byte
		found bool
		next  uint32
	)
	for e, err := range m.region.Prefix(ctx, recordPrefix(key)) {
		if err != nil {
			return nil, false, err
		}
		idx := binary.BigEndian.Uint32(e.Key[len(e.Key)-4:])
		if idx != next {
			return nil, false, &SerializationError{Key: key, Err: fmt.Errorf("missing slice %d (found %d)", next, idx)}
		}
		next++
		found = true
		value = append(value, e.Value...)
	}
	if found && value == nil {
		value = []byte{}
	}
	return value, found, nil
}

// Insert replaces the value stored under key and reports whether a value
// was already present.
func (m *ChunkedMap) Insert(ctx context.Context, key, value []byte) (bool, error) {
	prefix := recordPrefix(key)
	_, existed, err := m.region.FirstWithPrefix(ctx, prefix)
	if err != nil {
		return false, err
	}

	err = m.region.Apply(ctx, func(b Batch) error {
		// Drop every old slice, then write the new ones. Both happen in the
		// same batch, so a reader never sees a mix.
		if existed {
			if err := b.DeleteRange(prefix, PrefixEnd(prefix)); err != nil {
				return err
			}
		}
		var index uint32
		for off := 0; ; off += m.chunkSize {
			end := min(off+m.chunkSize, len(value))
			if err := b.Set(chunkKey(key, index), value[off:end]); err != nil {
				return err
			}
			index++
			if end >= len(value) {
				return nil
			}
		}
	})
	if err != nil {
		return false, fmt.Errorf("chunked insert: %w", err)
	}
	return existed, nil
}

// Remove deletes every slice of key and reports whether it existed.
func (m *ChunkedMap) Remove(ctx context.Context, key []byte) (bool, error) {
	removed, err := m.region.RemovePrefix(ctx, recordPrefix(key))
	if err != nil {
		return false, fmt.Errorf("chunked remove: %w", err)
	}
	return removed, nil
}

// Contains reports whether key is present.
func (m *ChunkedMap) Contains(ctx context.Context, key []byte) (bool, error) {
	_, ok, err := m.region.FirstWithPrefix(ctx, recordPrefix(key))
	return ok, err
}

// Keys returns the primary keys in ascending order.
func (m *ChunkedMap) Keys(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for e, err := range m.region.All(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			key, rest, ok := ReadLenPrefixed(e.Key)
			if !ok || len(rest) != 4 {
				if !yield(nil, &SerializationError{Key: e.Key, Err: fmt.Errorf("malformed slice key")}) {
					return
				}
				continue
			}
			if binary.BigEndian.Uint32(rest) != 0 {
				continue
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

// Len returns the number of records.
func (m *ChunkedMap) Len(ctx context.Context) (uint64, error) {
	var n uint64
	for _, err := range m.Keys(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Clear removes every record.
func (m *ChunkedMap) Clear(ctx context.Context) error {
	return m.region.Clear(ctx)
}
