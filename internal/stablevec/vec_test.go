package stablevec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stablekit/internal/codec"
	"github.com/roach88/stablekit/internal/identity"
	"github.com/roach88/stablekit/internal/store"
	"github.com/roach88/stablekit/internal/testutil"
)

var (
	alice = identity.With(context.Background(), "alice")
	bob   = identity.With(context.Background(), "bob")
)

func checkValues(t *testing.T, ctx context.Context, v *Vec[uint64], expected []uint64) {
	t.Helper()

	empty, err := v.IsEmpty(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(expected) == 0, empty)

	n, err := v.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(expected)), n)

	for i := uint64(0); i <= n; i++ {
		got, ok, err := v.Get(ctx, i)
		require.NoError(t, err)
		if i < uint64(len(expected)) {
			assert.True(t, ok, "index %d", i)
			assert.Equal(t, expected[i], got, "index %d", i)
		} else {
			assert.False(t, ok, "index %d should be out of range", i)
		}
	}
}

func checkEmpty(t *testing.T, ctx context.Context, v *Vec[uint64]) {
	t.Helper()
	checkValues(t, ctx, v, nil)
}

func newVec(t *testing.T, reg *store.Registry) *Vec[uint64] {
	t.Helper()
	return New(reg.Region(0), codec.Uint64())
}

func TestVec_CreateEmpty(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		v := newVec(t, reg)
		checkEmpty(t, alice, v)
		checkEmpty(t, bob, v)
	})
}

func TestVec_Push(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		v := newVec(t, reg)
		checkEmpty(t, alice, v)

		require.NoError(t, v.Push(alice, 1))
		checkValues(t, alice, v, []uint64{1})

		checkEmpty(t, bob, v)

		require.NoError(t, v.Push(bob, 2))
		checkValues(t, bob, v, []uint64{2})

		checkValues(t, alice, v, []uint64{1})

		require.NoError(t, v.Push(alice, 3))
		checkValues(t, alice, v, []uint64{1, 3})
		checkValues(t, bob, v, []uint64{2})
	})
}

func TestVec_Pop(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		v := newVec(t, reg)

		for _, x := range []uint64{1, 2, 3} {
			require.NoError(t, v.Push(alice, x))
		}
		for _, x := range []uint64{4, 5} {
			require.NoError(t, v.Push(bob, x))
		}

		pop := func(ctx context.Context) (uint64, bool) {
			x, ok, err := v.Pop(ctx)
			require.NoError(t, err)
			return x, ok
		}

		x, ok := pop(alice)
		assert.True(t, ok)
		assert.Equal(t, uint64(3), x)
		checkValues(t, alice, v, []uint64{1, 2})

		checkValues(t, bob, v, []uint64{4, 5})
		x, _ = pop(bob)
		assert.Equal(t, uint64(5), x)
		checkValues(t, bob, v, []uint64{4})
		x, _ = pop(bob)
		assert.Equal(t, uint64(4), x)
		checkEmpty(t, bob, v)
		_, ok = pop(bob)
		assert.False(t, ok)
		checkEmpty(t, bob, v)

		x, _ = pop(alice)
		assert.Equal(t, uint64(2), x)
		checkValues(t, alice, v, []uint64{1})
		x, _ = pop(alice)
		assert.Equal(t, uint64(1), x)
		checkEmpty(t, alice, v)
		_, ok = pop(alice)
		assert.False(t, ok)
		checkEmpty(t, alice, v)
	})
}

func TestVec_Clear(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		v := newVec(t, reg)

		for _, x := range []uint64{1, 2, 3} {
			require.NoError(t, v.Push(alice, x))
		}
		for _, x := range []uint64{4, 5} {
			require.NoError(t, v.Push(bob, x))
		}

		require.NoError(t, v.Clear(alice))
		checkEmpty(t, alice, v)

		require.NoError(t, v.Clear(alice))
		checkEmpty(t, alice, v)

		checkValues(t, bob, v, []uint64{4, 5})
		require.NoError(t, v.Clear(bob))
		checkEmpty(t, bob, v)

		// Usable after clear
		require.NoError(t, v.Push(alice, 9))
		checkValues(t, alice, v, []uint64{9})
	})
}

func TestVec_Iter(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		v := newVec(t, reg)
		for _, x := range []uint64{1, 2, 3} {
			require.NoError(t, v.Push(alice, x))
		}

		got, err := v.ToSlice(bob)
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = v.ToSlice(alice)
		require.NoError(t, err)
		assert.Equal(t, []uint64{1, 2, 3}, got)

		// Early stop
		var first []uint64
		for x, err := range v.All(alice) {
			require.NoError(t, err)
			first = append(first, x)
			break
		}
		assert.Equal(t, []uint64{1}, first)
	})
}

func TestVec_Set(t *testing.T) {
	testutil.ForEachBackend(t, func(t *testing.T, reg *store.Registry) {
		v := newVec(t, reg)

		// index == len appends
		require.NoError(t, v.Set(alice, 0, 10))
		require.NoError(t, v.Set(alice, 1, 20))
		checkValues(t, alice, v, []uint64{10, 20})

		// index < len overwrites
		require.NoError(t, v.Set(alice, 0, 11))
		checkValues(t, alice, v, []uint64{11, 20})

		// index > len is rejected
		err := v.Set(alice, 5, 50)
		require.Error(t, err)
		assert.True(t, IsIndexError(err))
		var ie *IndexError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, uint64(5), ie.Index)
		assert.Equal(t, uint64(2), ie.Len)
		checkValues(t, alice, v, []uint64{11, 20})

		checkEmpty(t, bob, v)
	})
}

func TestVec_ReadsDoNotAllocate(t *testing.T) {
	ctx := context.Background()
	reg := testutil.NewRegistry(t)
	region := reg.Region(0)
	v := New(region, codec.Uint64())

	_, _, err := v.Get(bob, 0)
	require.NoError(t, err)
	_, err = v.Len(bob)
	require.NoError(t, err)
	_, _, err = v.Pop(bob)
	require.NoError(t, err)
	_, err = v.ToSlice(bob)
	require.NoError(t, err)
	require.NoError(t, v.Clear(bob))

	assert.Empty(t, v.Identities())
	empty, err := region.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty, "reads must leave no trace in the store")

	require.NoError(t, v.Push(alice, 1))
	assert.Equal(t, []identity.ID{"alice"}, v.Identities())
}

func TestVec_AnonymousIdentity(t *testing.T) {
	ctx := context.Background()
	v := New(testutil.NewRegistry(t).Region(0), codec.Uint64())

	require.NoError(t, v.Push(ctx, 7))
	checkValues(t, ctx, v, []uint64{7})
	checkEmpty(t, alice, v)
}

func TestVec_MaxValueSize(t *testing.T) {
	v := New(testutil.NewRegistry(t).Region(0), codec.String(), WithMaxValueSize(3))

	require.NoError(t, v.Push(alice, "abc"))
	err := v.Push(alice, "abcd")
	require.Error(t, err)
	assert.True(t, store.IsCapacityError(err))

	n, err := v.Len(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestVec_SurvivesReopen(t *testing.T) {
	reg := testutil.NewRegistry(t)
	v := New(reg.Region(2), codec.Uint64())
	require.NoError(t, v.Push(alice, 1))
	require.NoError(t, v.Push(alice, 2))

	reopened := New(reg.Region(2), codec.Uint64())
	got, err := reopened.ToSlice(alice)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, got)
}
