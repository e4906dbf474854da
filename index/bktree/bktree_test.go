package bktree

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/imgmatch/imghash"
	"github.com/hupe1980/imgmatch/index"
	"github.com/hupe1980/imgmatch/index/indextest"
	"github.com/hupe1980/imgmatch/testutil"
)

func TestConformance(t *testing.T) {
	indextest.Run(t, Factory)
}

func TestConformanceWithoutCompaction(t *testing.T) {
	indextest.Run(t, func(algorithm uint32, bits int) (index.Index, error) {
		return New(algorithm, bits, func(o *Options) { o.CompactRatio = -1 }), nil
	})
}

func TestCompaction(t *testing.T) {
	tree := New(1, 64)
	rng := testutil.NewRNG(7)

	for i := 0; i < 200; i++ {
		require.NoError(t, tree.Insert(fmt.Sprintf("%03d", i), imghash.MustNew(1, 64, rng.HashWords(64))))
	}
	for i := 0; i < 150; i++ {
		require.True(t, tree.Delete(fmt.Sprintf("%03d", i)))
	}

	s := tree.Stats()
	assert.Equal(t, 50, s.Live)
	assert.LessOrEqual(t, s.Tombstones, s.Nodes/2)

	got, err := tree.Query(context.Background(), imghash.MustNew(1, 64, []uint64{0}), 64)
	require.NoError(t, err)
	assert.Len(t, got, 50)
}

func TestReplaceLeavesRoutingNode(t *testing.T) {
	tree := New(1, 64, func(o *Options) { o.CompactRatio = -1 })
	require.NoError(t, tree.Insert("root", imghash.MustNew(1, 64, []uint64{0})))
	require.NoError(t, tree.Insert("child", imghash.MustNew(1, 64, []uint64{0b1})))
	require.NoError(t, tree.Insert("root", imghash.MustNew(1, 64, []uint64{0xF0})))

	s := tree.Stats()
	assert.Equal(t, 3, s.Nodes)
	assert.Equal(t, 2, s.Live)
	assert.Equal(t, 1, s.Tombstones)

	got, err := tree.Query(context.Background(), imghash.MustNew(1, 64, []uint64{0}), 1)
	require.NoError(t, err)
	assert.Equal(t, []index.Candidate{{ID: "child", Distance: 1}}, got)

	tree.Compact()
	assert.Equal(t, 0, tree.Stats().Tombstones)
	assert.Equal(t, 2, tree.Stats().Nodes)
}
