package persistence

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/hupe1980/imgmatch/internal/fs"
	"github.com/hupe1980/imgmatch/internal/mmap"
	"github.com/hupe1980/imgmatch/resource"
)

const fileBufferSize = 256 * 1024

var tmpSeq atomic.Uint64

// SaveFile atomically writes s to path. The snapshot is written to a temporary
// file in the same directory, synced, renamed over path, and the directory is
// synced so the rename is durable.
func SaveFile(ctx context.Context, path string, s *State, opts Options) (int64, error) {
	return saveFile(ctx, fs.Default, path, s, opts)
}

func saveFile(ctx context.Context, fsys fs.FileSystem, path string, s *State, opts Options) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tmpName := fmt.Sprintf("%s.tmp-%d-%d", path, os.Getpid(), tmpSeq.Add(1))
	tmp, err := fsys.OpenFile(tmpName, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tmp.Close()
		if tmpName != "" {
			_ = fsys.Remove(tmpName)
		}
	}()

	var w io.Writer = tmp
	if opts.IO != nil {
		w = resource.NewRateLimitedWriter(ctx, tmp, opts.IO)
	}
	buf := bufio.NewWriterSize(w, fileBufferSize)

	n, err := Encode(buf, s, opts)
	if err != nil {
		return n, err
	}
	if err := buf.Flush(); err != nil {
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		return n, err
	}
	tmpName = ""

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return n, nil
}

// LoadFile reads the snapshot at path. Without an IO limit the file is
// memory-mapped and decoded in place.
func LoadFile(ctx context.Context, path string, opts Options) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	if opts.IO == nil {
		m, err := mmap.Open(path)
		if err != nil {
			return State{}, err
		}
		defer func() { _ = m.Close() }()
		_ = m.Advise(mmap.AccessSequential)
		return DecodeBytes(m.Bytes())
	}

	f, err := os.Open(path)
	if err != nil {
		return State{}, err
	}
	defer func() { _ = f.Close() }()

	r := resource.NewRateLimitedReader(ctx, f, opts.IO)
	return Decode(bufio.NewReaderSize(r, fileBufferSize))
}
