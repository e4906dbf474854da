package persistence

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/hupe1980/imgmatch/blobstore"
	"github.com/hupe1980/imgmatch/resource"
)

const (
	// CurrentName is the blob holding the name of the latest snapshot.
	CurrentName = "CURRENT"

	snapshotPrefix = "snapshots/"
	snapshotSuffix = ".snap"
)

// ErrNoSnapshot is returned when a store has no committed snapshot.
var ErrNoSnapshot = errors.New("no snapshot committed")

// Store keeps versioned snapshots in a blob store. Snapshots are immutable
// blobs named snapshots/<version>.snap; a save becomes visible once the
// CURRENT blob points at it.
type Store struct {
	blobs blobstore.BlobStore
	opts  Options
}

// NewStore returns a snapshot store on top of blobs.
func NewStore(blobs blobstore.BlobStore, opts Options) *Store {
	return &Store{blobs: blobs, opts: opts}
}

// SnapshotName returns the blob name of a snapshot version.
func SnapshotName(version uint64) string {
	return fmt.Sprintf("%s%020d%s", snapshotPrefix, version, snapshotSuffix)
}

func parseSnapshotName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Versions returns all stored snapshot versions in ascending order.
func (s *Store) Versions(ctx context.Context) ([]uint64, error) {
	names, err := s.blobs.List(ctx, snapshotPrefix)
	if err != nil {
		return nil, err
	}
	var versions []uint64
	for _, name := range names {
		if v, ok := parseSnapshotName(name); ok {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// Save writes state as a new snapshot version and commits it as CURRENT.
// It returns the committed version and the snapshot size in bytes.
func (s *Store) Save(ctx context.Context, state *State) (uint64, int64, error) {
	versions, err := s.Versions(ctx)
	if err != nil {
		return 0, 0, err
	}
	version := uint64(1)
	if len(versions) > 0 {
		version = versions[len(versions)-1] + 1
	}
	name := SnapshotName(version)

	n, err := s.write(ctx, name, state)
	if err != nil {
		return 0, n, err
	}

	if err := s.blobs.Put(ctx, CurrentName, []byte(name)); err != nil {
		// Orphaned snapshot; the previous CURRENT stays valid.
		_ = s.blobs.Delete(ctx, name)
		return 0, n, fmt.Errorf("persistence: commit %s: %w", name, err)
	}
	return version, n, nil
}

func (s *Store) write(ctx context.Context, name string, state *State) (int64, error) {
	blob, err := s.blobs.Create(ctx, name)
	if err != nil {
		return 0, err
	}

	var w io.Writer = blob
	if s.opts.IO != nil {
		w = resource.NewRateLimitedWriter(ctx, blob, s.opts.IO)
	}
	buf := bufio.NewWriterSize(w, fileBufferSize)

	n, err := Encode(buf, state, s.opts)
	if err == nil {
		err = buf.Flush()
	}
	if err == nil {
		err = blob.Sync()
	}
	if err != nil {
		_ = blob.Close()
		_ = s.blobs.Delete(ctx, name)
		return n, err
	}
	return n, blob.Close()
}

// Current returns the version CURRENT points at.
func (s *Store) Current(ctx context.Context) (uint64, error) {
	data, err := blobstore.ReadAll(ctx, s.blobs, CurrentName)
	if err != nil {
		if blobstore.IsNotFound(err) {
			return 0, ErrNoSnapshot
		}
		return 0, err
	}
	v, ok := parseSnapshotName(strings.TrimSpace(string(data)))
	if !ok {
		return 0, fmt.Errorf("%w: invalid %s pointer %q", ErrCorrupt, CurrentName, data)
	}
	return v, nil
}

// Latest loads the snapshot CURRENT points at.
func (s *Store) Latest(ctx context.Context) (State, uint64, error) {
	v, err := s.Current(ctx)
	if err != nil {
		return State{}, 0, err
	}
	state, err := s.Load(ctx, v)
	return state, v, err
}

// Load loads a specific snapshot version.
func (s *Store) Load(ctx context.Context, version uint64) (State, error) {
	name := SnapshotName(version)
	if s.opts.IO == nil {
		data, err := blobstore.ReadAll(ctx, s.blobs, name)
		if err != nil {
			return State{}, err
		}
		return DecodeBytes(data)
	}

	blob, err := s.blobs.Open(ctx, name)
	if err != nil {
		return State{}, err
	}
	defer func() { _ = blob.Close() }()

	if blob.Size() == 0 {
		return State{}, fmt.Errorf("%w: empty snapshot", ErrCorrupt)
	}
	rc, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		return State{}, err
	}
	defer func() { _ = rc.Close() }()

	return Decode(bufio.NewReaderSize(resource.NewRateLimitedReader(ctx, rc, s.opts.IO), fileBufferSize))
}

// Prune deletes all but the newest keep snapshots. The snapshot CURRENT
// points at is never deleted. It returns the number of deleted snapshots.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	versions, err := s.Versions(ctx)
	if err != nil {
		return 0, err
	}
	current, err := s.Current(ctx)
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		return 0, err
	}

	keep = max(keep, 0)
	deleted := 0
	for i := 0; i < len(versions)-keep; i++ {
		if versions[i] == current {
			continue
		}
		if err := s.blobs.Delete(ctx, SnapshotName(versions[i])); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
