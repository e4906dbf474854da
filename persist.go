package imgmatch

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/imgmatch/algorithm"
	"github.com/hupe1980/imgmatch/blobstore"
	"github.com/hupe1980/imgmatch/imghash"
	"github.com/hupe1980/imgmatch/index"
	"github.com/hupe1980/imgmatch/persistence"
	"github.com/hupe1980/imgmatch/pipeline"
)

// Save writes a snapshot of the pipeline and every index to blobs and makes
// it the current version. It returns the committed version.
func (m *Matcher) Save(ctx context.Context, blobs blobstore.BlobStore) (version uint64, err error) {
	start := time.Now()
	var n int64
	defer func() {
		m.opts.metricsCollector.RecordSave(time.Since(start), n, err)
		m.opts.logger.LogSave(ctx, fmt.Sprintf("version %d", version), n, err)
	}()

	release, err := m.reserve(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	state, err := m.snapshot()
	if err != nil {
		return 0, err
	}

	store := persistence.NewStore(blobs, m.opts.persistenceOptions(m.rc))
	version, n, err = store.Save(ctx, state)
	return version, err
}

// SaveFile atomically writes a snapshot to path.
func (m *Matcher) SaveFile(ctx context.Context, path string) (err error) {
	start := time.Now()
	var n int64
	defer func() {
		m.opts.metricsCollector.RecordSave(time.Since(start), n, err)
		m.opts.logger.LogSave(ctx, path, n, err)
	}()

	release, err := m.reserve(ctx)
	if err != nil {
		return err
	}
	defer release()

	state, err := m.snapshot()
	if err != nil {
		return err
	}

	n, err = persistence.SaveFile(ctx, path, state, m.opts.persistenceOptions(m.rc))
	return err
}

// Load restores the current snapshot from blobs into a new Matcher.
// It returns ErrNoSnapshot if nothing was saved yet.
func Load(ctx context.Context, blobs blobstore.BlobStore, optFns ...Option) (*Matcher, error) {
	return load(ctx, "current", optFns, func(m *Matcher) (persistence.State, error) {
		store := persistence.NewStore(blobs, m.opts.persistenceOptions(m.rc))
		state, _, err := store.Latest(ctx)
		return state, err
	})
}

// LoadVersion restores a specific snapshot version from blobs.
func LoadVersion(ctx context.Context, blobs blobstore.BlobStore, version uint64, optFns ...Option) (*Matcher, error) {
	return load(ctx, fmt.Sprintf("version %d", version), optFns, func(m *Matcher) (persistence.State, error) {
		store := persistence.NewStore(blobs, m.opts.persistenceOptions(m.rc))
		return store.Load(ctx, version)
	})
}

// LoadFile restores a snapshot written by SaveFile.
func LoadFile(ctx context.Context, path string, optFns ...Option) (*Matcher, error) {
	return load(ctx, path, optFns, func(m *Matcher) (persistence.State, error) {
		return persistence.LoadFile(ctx, path, m.opts.persistenceOptions(m.rc))
	})
}

func load(ctx context.Context, source string, optFns []Option, read func(*Matcher) (persistence.State, error)) (_ *Matcher, err error) {
	start := time.Now()
	m := New(optFns...)

	items := 0
	defer func() {
		m.opts.metricsCollector.RecordLoad(time.Since(start), items, err)
		m.opts.logger.LogLoad(ctx, source, items, err)
	}()

	state, err := read(m)
	if err != nil {
		return nil, err
	}
	if err := m.restore(&state); err != nil {
		_ = m.Close()
		return nil, err
	}
	items = m.Len()
	return m, nil
}

// reserve accounts the snapshot buffers against the memory limit.
func (m *Matcher) reserve(ctx context.Context) (func(), error) {
	if m.rc == nil || m.opts.memoryLimit <= 0 {
		return func() {}, nil
	}

	need := m.snapshotSize()
	if need > m.opts.memoryLimit {
		return nil, fmt.Errorf("%w: snapshot needs %d bytes, limit is %d", ErrMemoryLimit, need, m.opts.memoryLimit)
	}
	if err := m.rc.AcquireMemory(ctx, need); err != nil {
		return nil, err
	}
	return func() { m.rc.ReleaseMemory(need) }, nil
}

// snapshotSize estimates the encoded size of the index contents.
func (m *Matcher) snapshotSize() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, idx := range m.indexes {
		words := int64((idx.BitResolution() + 63) / 64)
		total += int64(idx.Len()) * (words*21 + 32)
	}
	return total
}

func (m *Matcher) snapshot() (*persistence.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	entries := m.pipeline.Snapshot()
	state := &persistence.State{
		Stages:  make([]persistence.Stage, 0, len(entries)),
		Indexes: make([]persistence.IndexState, 0, len(m.indexes)),
	}
	for _, e := range entries {
		state.Stages = append(state.Stages, persistence.Stage{
			Algorithm:  e.Algorithm.Spec(),
			Threshold:  e.Settings.Threshold,
			Normalized: e.Settings.Normalized,
		})
	}

	for id, idx := range m.indexes {
		is := persistence.IndexState{
			Algorithm: m.algos[id].Spec(),
			Bits:      idx.BitResolution(),
			Items:     make([]persistence.Item, 0, idx.Len()),
		}
		for itemID, h := range idx.All() {
			is.Items = append(is.Items, persistence.Item{ID: itemID, Words: h.Words()})
		}
		slices.SortFunc(is.Items, func(a, b persistence.Item) int { return cmp.Compare(a.ID, b.ID) })
		state.Indexes = append(state.Indexes, is)
	}
	slices.SortFunc(state.Indexes, func(a, b persistence.IndexState) int {
		return cmp.Compare(a.Algorithm.String(), b.Algorithm.String())
	})

	return state, nil
}

// restore rebuilds indexes and pipeline from state into an empty matcher.
func (m *Matcher) restore(state *persistence.State) error {
	if err := state.Validate(); err != nil {
		return err
	}

	algos := make(map[algorithm.Spec]algorithm.Algorithm, len(state.Indexes))
	for _, is := range state.Indexes {
		algo, err := algorithm.New(is.Algorithm)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnsupportedAlgorithm, is.Algorithm, err)
		}
		if algo.BitResolution() != is.Bits {
			return fmt.Errorf("%w: index %s has %d bits, algorithm produces %d",
				ErrCorruptSnapshot, is.Algorithm, is.Bits, algo.BitResolution())
		}
		idx, err := m.restoreIndex(algo, is)
		if err != nil {
			return err
		}

		m.mu.Lock()
		m.algos[algo.ID()] = algo
		m.indexes[algo.ID()] = idx
		for _, it := range is.Items {
			m.items[it.ID] = struct{}{}
		}
		m.mu.Unlock()

		algos[is.Algorithm] = algo
	}

	for i, st := range state.Stages {
		s := pipeline.Settings{Threshold: st.Threshold, Normalized: st.Normalized}
		if err := m.pipeline.Add(algos[st.Algorithm], s); err != nil {
			return fmt.Errorf("%w: stage %d: %w", ErrCorruptSnapshot, i, err)
		}
	}
	return nil
}

func (m *Matcher) restoreIndex(algo algorithm.Algorithm, is persistence.IndexState) (index.Index, error) {
	idx, err := m.opts.indexFactory(algo.ID(), is.Bits)
	if err != nil {
		return nil, fmt.Errorf("create index for %s: %w", is.Algorithm, err)
	}
	for _, it := range is.Items {
		h, err := imghash.New(algo.ID(), is.Bits, it.Words)
		if err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("%w: index %s item %q: %w", ErrCorruptSnapshot, is.Algorithm, it.ID, err)
		}
		if err := idx.Insert(it.ID, h); err != nil {
			_ = idx.Close()
			return nil, err
		}
	}
	return idx, nil
}
