package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkedMap_RoundTripAcrossSlices(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		region := NewRegistry(b).Region(10)
		m := NewChunkedMap(region, 4)

		value := []byte("0123456789abcdef-xyz") // 20 bytes → 5 slices
		existed, err := m.Insert(ctx, []byte("rec"), value)
		require.NoError(t, err)
		assert.False(t, existed)

		n, err := region.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), n, "value should be stored as 5 slices")

		got, ok, err := m.Get(ctx, []byte("rec"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, value, got)
	})
}

func TestChunkedMap_ShrinkRemovesStaleSlices(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		region := NewRegistry(b).Region(10)
		m := NewChunkedMap(region, 4)

		_, err := m.Insert(ctx, []byte("rec"), bytes.Repeat([]byte("a"), 16))
		require.NoError(t, err)
		existed, err := m.Insert(ctx, []byte("rec"), []byte("bb"))
		require.NoError(t, err)
		assert.True(t, existed)

		got, ok, err := m.Get(ctx, []byte("rec"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("bb"), got)

		n, err := region.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	})
}

func TestChunkedMap_EmptyValuePresent(t *testing.T) {
	ctx := context.Background()
	m := NewChunkedMap(NewRegistry(createTestSQLite(t)).Region(1), 0)
	assert.Equal(t, DefaultChunkSize, m.ChunkSize())

	_, err := m.Insert(ctx, []byte("e"), nil)
	require.NoError(t, err)

	got, ok, err := m.Get(ctx, []byte("e"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestChunkedMap_KeysDoNotInterleave(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		m := NewChunkedMap(NewRegistry(b).Region(11), 2)

		_, err := m.Insert(ctx, []byte("a"), []byte("AAAAA"))
		require.NoError(t, err)
		_, err = m.Insert(ctx, []byte("ab"), []byte("BBBBB"))
		require.NoError(t, err)

		got, _, err := m.Get(ctx, []byte("a"))
		require.NoError(t, err)
		assert.Equal(t, "AAAAA", string(got))

		var keys []string
		for k, err := range m.Keys(ctx) {
			require.NoError(t, err)
			keys = append(keys, string(k))
		}
		assert.Equal(t, []string{"a", "ab"}, keys)

		n, err := m.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)

		removed, err := m.Remove(ctx, []byte("a"))
		require.NoError(t, err)
		assert.True(t, removed)

		ok, err := m.Contains(ctx, []byte("a"))
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = m.Contains(ctx, []byte("ab"))
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestChunkedMap_MissingSliceIsSerializationError(t *testing.T) {
	ctx := context.Background()
	region := NewRegistry(createTestSQLite(t)).Region(1)
	m := NewChunkedMap(region, 2)

	_, err := m.Insert(ctx, []byte("r"), []byte("abcdef"))
	require.NoError(t, err)

	// Knock out the middle slice behind the map's back.
	_, _, err = region.Remove(ctx, chunkKey([]byte("r"), 1))
	require.NoError(t, err)

	_, _, err = m.Get(ctx, []byte("r"))
	require.Error(t, err)
	assert.True(t, IsSerializationError(err))
}

func TestLimits_Check(t *testing.T) {
	l := Limits{MaxKeySize: 2, MaxValueSize: 3}

	assert.NoError(t, l.Check([]byte("ab"), []byte("abc")))

	err := l.Check([]byte("abc"), nil)
	require.Error(t, err)
	assert.True(t, IsCapacityError(err))
	assert.Contains(t, err.Error(), "key is 3 bytes, max 2")

	err = l.Check(nil, []byte("abcd"))
	var ce *CapacityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "value", ce.Field)

	assert.NoError(t, Limits{}.Check(bytes.Repeat([]byte("x"), 1<<16), nil))
}
