package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	dir := t.TempDir()
	lfs := LocalFS{}

	path := filepath.Join(dir, "a.snap")
	f, err := lfs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	require.NoError(t, err)
	assert.Equal(t, path, f.Name())

	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	info, err := lfs.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	renamed := filepath.Join(dir, "b.snap")
	require.NoError(t, lfs.Rename(path, renamed))
	_, err = lfs.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, lfs.Remove(renamed))
	_, err = lfs.Stat(renamed)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFS(t *testing.T) {
	dir := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule(".tmp", Fault{FailAfterBytes: 4})
	ffs.AddRule("sync.tmp", Fault{FailAfterBytes: -1, FailOnSync: true})
	ffs.AddRule("move", Fault{FailAfterBytes: -1, FailOnRename: true})

	t.Run("WriteLimit", func(t *testing.T) {
		f, err := ffs.OpenFile(filepath.Join(dir, "write.tmp"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		defer f.Close()

		_, err = f.Write([]byte("abc"))
		require.NoError(t, err)
		_, err = f.Write([]byte("de"))
		assert.ErrorIs(t, err, ErrInjected)
	})

	t.Run("LongestPatternWins", func(t *testing.T) {
		f, err := ffs.OpenFile(filepath.Join(dir, "sync.tmp"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		defer f.Close()

		_, err = f.Write([]byte("no limit here"))
		require.NoError(t, err)
		assert.ErrorIs(t, f.Sync(), ErrInjected)
	})

	t.Run("Rename", func(t *testing.T) {
		src := filepath.Join(dir, "move-me")
		require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
		assert.ErrorIs(t, ffs.Rename(src, filepath.Join(dir, "dst")), ErrInjected)
	})

	t.Run("Unmatched", func(t *testing.T) {
		f, err := ffs.OpenFile(filepath.Join(dir, "plain"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.Write([]byte("plenty of bytes"))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	})
}
