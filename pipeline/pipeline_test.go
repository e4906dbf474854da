package pipeline

import (
	"image"
	"sync"
	"testing"

	"github.com/hupe1980/imgmatch/algorithm"
	"github.com/hupe1980/imgmatch/imghash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAlgo struct {
	id uint32
}

func (f fakeAlgo) ID() uint32 { return f.id }

func (f fakeAlgo) Spec() algorithm.Spec { return algorithm.Spec{Kind: "fake", Size: int(f.id)} }

func (f fakeAlgo) BitResolution() int { return 64 }

func (f fakeAlgo) Hash(image.Image) (imghash.Hash, error) {
	return imghash.NewBuilder(f.id, 64).Hash(), nil
}

func ids(entries []Entry) []uint32 {
	out := make([]uint32, len(entries))
	for i, e := range entries {
		out[i] = e.Algorithm.ID()
	}
	return out
}

func TestAddKeepsInsertionOrder(t *testing.T) {
	p := New()
	require.NoError(t, p.Add(fakeAlgo{3}, Normalized(0.1)))
	require.NoError(t, p.Add(fakeAlgo{1}, Normalized(0.2)))
	require.NoError(t, p.Add(fakeAlgo{2}, Normalized(0.3)))

	assert.Equal(t, []uint32{3, 1, 2}, ids(p.Snapshot()))
	assert.Equal(t, 3, p.Len())
}

func TestReAddKeepsPosition(t *testing.T) {
	p := New()
	require.NoError(t, p.Add(fakeAlgo{1}, Normalized(0.1)))
	require.NoError(t, p.Add(fakeAlgo{2}, Normalized(0.2)))
	require.NoError(t, p.Add(fakeAlgo{1}, Absolute(7)))

	snap := p.Snapshot()
	assert.Equal(t, []uint32{1, 2}, ids(snap))
	assert.Equal(t, Absolute(7), snap[0].Settings)
}

func TestAddRejectsInvalidThreshold(t *testing.T) {
	p := New()
	err := p.Add(fakeAlgo{1}, Normalized(2))
	assert.ErrorIs(t, err, ErrInvalidThreshold)
	assert.Equal(t, 0, p.Len())
}

func TestRemove(t *testing.T) {
	p := New()
	for i := uint32(1); i <= 4; i++ {
		require.NoError(t, p.Add(fakeAlgo{i}, Normalized(0.1)))
	}

	assert.True(t, p.Remove(2))
	assert.Equal(t, []uint32{1, 3, 4}, ids(p.Snapshot()))

	t.Run("AbsentIsNoop", func(t *testing.T) {
		assert.False(t, p.Remove(99))
		assert.False(t, p.Remove(2))
		assert.Equal(t, []uint32{1, 3, 4}, ids(p.Snapshot()))
	})

	t.Run("LookupAfterShift", func(t *testing.T) {
		e, ok := p.Get(4)
		require.True(t, ok)
		assert.Equal(t, uint32(4), e.Algorithm.ID())

		require.NoError(t, p.Add(fakeAlgo{4}, Normalized(0.9)))
		assert.Equal(t, []uint32{1, 3, 4}, ids(p.Snapshot()))
	})

	t.Run("ReAddAppends", func(t *testing.T) {
		require.NoError(t, p.Add(fakeAlgo{2}, Normalized(0.1)))
		assert.Equal(t, []uint32{1, 3, 4, 2}, ids(p.Snapshot()))
	})
}

func TestClear(t *testing.T) {
	p := New()
	require.NoError(t, p.Add(fakeAlgo{1}, Normalized(0.1)))
	p.Clear()

	assert.Equal(t, 0, p.Len())
	_, ok := p.Get(1)
	assert.False(t, ok)

	require.NoError(t, p.Add(fakeAlgo{1}, Normalized(0.1)))
	assert.Equal(t, []uint32{1}, ids(p.Snapshot()))
}

func TestSnapshotIsIndependent(t *testing.T) {
	p := New()
	require.NoError(t, p.Add(fakeAlgo{1}, Normalized(0.1)))
	require.NoError(t, p.Add(fakeAlgo{2}, Normalized(0.2)))

	snap := p.Snapshot()
	p.Remove(1)
	require.NoError(t, p.Add(fakeAlgo{2}, Normalized(0.5)))
	require.NoError(t, p.Add(fakeAlgo{3}, Normalized(0.5)))

	assert.Equal(t, []uint32{1, 2}, ids(snap))
	assert.Equal(t, Normalized(0.2), snap[1].Settings)
}

func TestConcurrentAccess(t *testing.T) {
	p := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(id uint32) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = p.Add(fakeAlgo{id}, Normalized(0.1))
				p.Remove(id)
			}
		}(uint32(i))
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				snap := p.Snapshot()
				seen := map[uint32]bool{}
				for _, e := range snap {
					assert.False(t, seen[e.Algorithm.ID()])
					seen[e.Algorithm.ID()] = true
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, p.Len())
}
