package sqlindex

import (
	"context"
	"database/sql/driver"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/imgmatch/imghash"
	"github.com/hupe1980/imgmatch/index"
	"github.com/hupe1980/imgmatch/index/indextest"
)

func TestConformanceMemory(t *testing.T) {
	indextest.Run(t, MemoryFactory)
}

func TestConformanceSharedFile(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "hashes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// Subtests share one table per algorithm; start each one empty.
	indextest.Run(t, func(algorithm uint32, bits int) (index.Index, error) {
		idx, err := New(context.Background(), db, algorithm, bits)
		if err != nil {
			return nil, err
		}
		if _, err := db.Exec("DELETE FROM " + idx.table); err != nil {
			return nil, err
		}
		return idx, nil
	})
}

func TestTablesAreIsolatedPerAlgorithm(t *testing.T) {
	db, err := Open("")
	require.NoError(t, err)
	defer db.Close()

	a, err := New(context.Background(), db, 1, 64)
	require.NoError(t, err)
	b, err := New(context.Background(), db, 2, 64)
	require.NoError(t, err)

	require.NoError(t, a.Insert("x", imghash.MustNew(1, 64, []uint64{0})))
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 0, b.Len())

	require.NoError(t, a.Close())
	require.NoError(t, db.Ping())
}

func TestPersistsInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.db")

	db, err := Open(path)
	require.NoError(t, err)
	idx, err := New(context.Background(), db, 9, 128)
	require.NoError(t, err)
	require.NoError(t, idx.Insert("kept", imghash.MustNew(9, 128, []uint64{0xAB, 0xCD})))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	idx, err = New(context.Background(), db, 9, 128)
	require.NoError(t, err)

	h, ok := idx.Get("kept")
	require.True(t, ok)
	assert.Equal(t, []uint64{0xAB, 0xCD}, h.Words())
}

func TestHammingDistanceFunction(t *testing.T) {
	d, err := hammingDistanceImpl(nil, []driver.Value{[]byte{0xFF, 0x00}, []byte{0x0F}})
	require.NoError(t, err)
	assert.Equal(t, int64(4), d)

	_, err = hammingDistanceImpl(nil, []driver.Value{"text", []byte{0}})
	assert.Error(t, err)
}
