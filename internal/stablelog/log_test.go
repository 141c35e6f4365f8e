package stablelog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stablekit/internal/codec"
	"github.com/roach88/stablekit/internal/store"
	"github.com/roach88/stablekit/internal/testutil"
)

func newLog(t *testing.T, reg *store.Registry, values ...uint64) *Log[uint64] {
	t.Helper()
	l, err := FromSlice(context.Background(), reg.Region(0), codec.Uint64(), values)
	require.NoError(t, err)
	return l
}

func TestLog_Push(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		ctx := context.Background()
		l := newLog(t, reg)

		require.NoError(t, l.Push(ctx, 1))
		require.NoError(t, l.Push(ctx, 2))

		got, err := l.ToSlice(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2}, got)
	})
}

func TestLog_PopFront(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		ctx := context.Background()
		l := newLog(t, reg, 1, 2)

		v, ok, err := l.PopFront(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(1), v)

		n, err := l.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	})
}

func TestLog_PopBack(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		ctx := context.Background()
		l := newLog(t, reg, 1, 2, 3)

		v, ok, err := l.PopBack(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(3), v)

		n, err := l.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)
	})
}

func TestLog_PopEmpty(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		ctx := context.Background()
		l := newLog(t, reg)

		_, ok, err := l.PopFront(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = l.PopBack(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		empty, err := l.IsEmpty(ctx)
		require.NoError(t, err)
		assert.True(t, empty)
	})
}

func TestLog_PopOrderIsByteOrder(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		ctx := context.Background()
		l := newLog(t, reg, 1, 2, 3)

		front, _, err := l.PopFront(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), front)

		back, _, err := l.PopBack(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), back)

		rest, err := l.ToSlice(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint64{2}, rest)
	})
}

func TestLog_InsertionOrderIsNotPreserved(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		ctx := context.Background()
		// JSON encodes 10 as "10", which sorts before "9".
		l, err := FromSlice(ctx, reg.Region(0), codec.JSON[int](), []int{9, 10, 1})
		require.NoError(t, err)

		got, err := l.ToSlice(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 10, 9}, got)

		front, _, err := l.PopFront(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, front)

		back, _, err := l.PopBack(ctx)
		require.NoError(t, err)
		assert.Equal(t, 9, back)
	})
}

func TestLog_Iterator(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		ctx := context.Background()
		l := newLog(t, reg, 1, 2)

		var got []uint64
		for v, err := range l.All(ctx) {
			require.NoError(t, err)
			got = append(got, v)
		}
		assert.Equal(t, []uint64{1, 2}, got)

		// Restartable
		again, err := l.ToSlice(ctx)
		require.NoError(t, err)
		assert.Equal(t, got, again)
	})
}

func TestLog_MultipleLogs(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		ctx := context.Background()
		log1, err := FromSlice(ctx, reg.Region(0), codec.Uint64(), []uint64{1, 2})
		require.NoError(t, err)
		log2, err := FromSlice(ctx, reg.Region(1), codec.Uint64(), []uint64{2, 3})
		require.NoError(t, err)

		got1, err := log1.ToSlice(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2}, got1)

		got2, err := log2.ToSlice(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint64{2, 3}, got2)
	})
}

func TestLog_InsertSameTwice(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		l := newLog(t, reg, 1, 1)

		n, err := l.Len(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	})
}

func TestLog_Dedup(t *testing.T) {
	ctx := context.Background()
	reg := testutil.NewRegistry(t)
	l := New(reg.Region(0), codec.String())

	for _, s := range []string{"b", "a", "b", "c", "a", "a"} {
		require.NoError(t, l.Push(ctx, s))
	}

	n, err := l.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestLog_MaxKeySize(t *testing.T) {
	ctx := context.Background()
	reg := testutil.NewRegistry(t)
	l := New(reg.Region(0), codec.String(), WithMaxKeySize(4))

	require.NoError(t, l.Push(ctx, "abcd"))

	err := l.Push(ctx, "abcde")
	require.Error(t, err)
	assert.True(t, store.IsCapacityError(err))

	got, err := l.ToSlice(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd"}, got, "rejected push must not be written")
}

func TestLog_UndecodableEntryIsRemoved(t *testing.T) {
	ctx := context.Background()
	reg := testutil.NewRegistry(t)
	region := reg.Region(0)

	// Three bytes cannot be a Uint64 encoding.
	_, _, err := region.Insert(ctx, []byte{0x00, 0x00, 0x01}, []byte{})
	require.NoError(t, err)

	var buf bytes.Buffer
	l := New(region, codec.Uint64(), WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	_, ok, err := l.PopFront(ctx)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, store.IsSerializationError(err))

	logged := buf.String()
	assert.Contains(t, logged, "level=WARN")
	assert.Contains(t, logged, "dropped undecodable log entry")
	assert.Contains(t, logged, "key=000001")

	empty, err := l.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestLog_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	reg := testutil.NewRegistry(t)

	_, err := FromSlice(ctx, reg.Region(3), codec.Uint64(), []uint64{5, 7})
	require.NoError(t, err)

	// A fresh handle over the same region sees the same entries.
	reopened := New(reg.Region(3), codec.Uint64())
	got, err := reopened.ToSlice(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 7}, got)
}
