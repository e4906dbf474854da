// Package indextest provides a conformance suite shared by all index.Index
// implementations.
package indextest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/imgmatch/imghash"
	"github.com/hupe1980/imgmatch/index"
	"github.com/hupe1980/imgmatch/testutil"
)

const (
	algo = uint32(0xA1)
	bits = 64
)

// Run exercises the index.Index contract against indexes built by factory.
func Run(t *testing.T, factory index.Factory) {
	t.Helper()

	newIndex := func(t *testing.T) index.Index {
		t.Helper()
		idx, err := factory(algo, bits)
		require.NoError(t, err)
		t.Cleanup(func() { _ = idx.Close() })
		return idx
	}

	t.Run("Metadata", func(t *testing.T) {
		idx := newIndex(t)
		assert.Equal(t, algo, idx.Algorithm())
		assert.Equal(t, bits, idx.BitResolution())
		assert.Equal(t, 0, idx.Len())
	})

	t.Run("QueryOrdering", func(t *testing.T) {
		idx := newIndex(t)
		base := uint64(0)
		require.NoError(t, idx.Insert("c", hash(base|0b011)))
		require.NoError(t, idx.Insert("a", hash(base)))
		require.NoError(t, idx.Insert("b", hash(base|0b100)))
		require.NoError(t, idx.Insert("d", hash(base|0b001)))
		require.NoError(t, idx.Insert("far", hash(^uint64(0))))

		got, err := idx.Query(context.Background(), hash(base), 2)
		require.NoError(t, err)
		assert.Equal(t, []index.Candidate{
			{ID: "a", Distance: 0},
			{ID: "b", Distance: 1},
			{ID: "d", Distance: 1},
			{ID: "c", Distance: 2},
		}, got)

		got, err = idx.Query(context.Background(), hash(base), 0)
		require.NoError(t, err)
		assert.Equal(t, []index.Candidate{{ID: "a", Distance: 0}}, got)

		got, err = idx.Query(context.Background(), hash(base), bits)
		require.NoError(t, err)
		assert.Len(t, got, 5)
		assert.Equal(t, index.Candidate{ID: "far", Distance: 64}, got[4])
	})

	t.Run("EmptyResultIsNotAnError", func(t *testing.T) {
		idx := newIndex(t)
		got, err := idx.Query(context.Background(), hash(0), 3)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ReplaceAndDelete", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Insert("x", hash(0)))
		require.NoError(t, idx.Insert("x", hash(0xFF)))
		assert.Equal(t, 1, idx.Len())

		h, ok := idx.Get("x")
		require.True(t, ok)
		assert.True(t, h.Equal(hash(0xFF)))

		got, err := idx.Query(context.Background(), hash(0), 4)
		require.NoError(t, err)
		assert.Empty(t, got)

		assert.True(t, idx.Delete("x"))
		assert.False(t, idx.Delete("x"))
		assert.Equal(t, 0, idx.Len())
		_, ok = idx.Get("x")
		assert.False(t, ok)

		require.NoError(t, idx.Insert("x", hash(1)))
		got, err = idx.Query(context.Background(), hash(0), 4)
		require.NoError(t, err)
		assert.Equal(t, []index.Candidate{{ID: "x", Distance: 1}}, got)
	})

	t.Run("DuplicateHashes", func(t *testing.T) {
		idx := newIndex(t)
		for _, id := range []string{"p", "q", "r"} {
			require.NoError(t, idx.Insert(id, hash(42)))
		}
		require.True(t, idx.Delete("q"))

		got, err := idx.Query(context.Background(), hash(42), 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"p", "r"}, index.IDs(got))
	})

	t.Run("Validation", func(t *testing.T) {
		idx := newIndex(t)
		assert.ErrorIs(t, idx.Insert("", hash(0)), index.ErrEmptyID)

		other := imghash.MustNew(algo+1, bits, []uint64{0})
		assert.ErrorIs(t, idx.Insert("x", other), imghash.ErrIncompatible)

		_, err := idx.Query(context.Background(), other, 3)
		assert.ErrorIs(t, err, imghash.ErrIncompatible)

		_, err = idx.Query(context.Background(), hash(0), -1)
		assert.ErrorIs(t, err, index.ErrNegativeDistance)
	})

	t.Run("All", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Insert("b", hash(2)))
		require.NoError(t, idx.Insert("a", hash(1)))
		require.NoError(t, idx.Insert("c", hash(3)))
		idx.Delete("c")

		var ids []string
		for id, h := range idx.All() {
			ids = append(ids, id)
			assert.Equal(t, algo, h.Algorithm())
		}
		assert.Equal(t, []string{"a", "b"}, ids)
	})

	t.Run("MatchesBruteForce", func(t *testing.T) {
		idx := newIndex(t)
		rng := testutil.NewRNG(4711)

		items := make(map[string][]uint64)
		center := rng.HashWords(bits)
		for i := 0; i < 300; i++ {
			id := fmt.Sprintf("item-%03d", i)
			var w []uint64
			if i%3 == 0 {
				w = rng.FlipBits(center, bits, rng.Intn(12))
			} else {
				w = rng.HashWords(bits)
			}
			items[id] = w
			require.NoError(t, idx.Insert(id, imghash.MustNew(algo, bits, w)))
		}
		for i := 0; i < 300; i += 7 {
			id := fmt.Sprintf("item-%03d", i)
			require.True(t, idx.Delete(id))
			delete(items, id)
		}

		for _, radius := range []int{0, 4, 10, 24, 64} {
			want := testutil.BruteForceRange(items, center, radius)
			got, err := idx.Query(context.Background(), imghash.MustNew(algo, bits, center), radius)
			require.NoError(t, err)
			require.Len(t, got, len(want), "radius %d", radius)
			for i := range want {
				assert.Equal(t, want[i].ID, got[i].ID)
				assert.Equal(t, want[i].Distance, got[i].Distance)
			}
		}
	})

	t.Run("ConcurrentReads", func(t *testing.T) {
		idx := newIndex(t)
		for i := 0; i < 50; i++ {
			require.NoError(t, idx.Insert(fmt.Sprintf("%02d", i), hash(uint64(i))))
		}

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					got, err := idx.Query(context.Background(), hash(0), 1)
					assert.NoError(t, err)
					// 0 and the six single-bit values below 50.
					assert.Len(t, got, 7)
				}
			}()
		}
		wg.Wait()
	})
}

func hash(w uint64) imghash.Hash {
	return imghash.MustNew(algo, bits, []uint64{w})
}
