package imgmatch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/imgmatch/algorithm"
	"github.com/hupe1980/imgmatch/imghash"
	"github.com/hupe1980/imgmatch/index"
	"github.com/hupe1980/imgmatch/internal/cascade"
	"github.com/hupe1980/imgmatch/pipeline"
	"github.com/hupe1980/imgmatch/resource"
)

// Matcher finds indexed images that are close to a query image under every
// algorithm of its pipeline.
//
// Each algorithm owns a full index of the images added while it was part of
// the pipeline. Indexes outlive the pipeline entry: removing an algorithm
// only stops it from participating in matches, and adding it back restores
// its earlier results.
//
// A Matcher is safe for concurrent use.
type Matcher struct {
	opts     options
	pipeline *pipeline.Pipeline
	rc       *resource.Controller

	mu      sync.RWMutex
	algos   map[uint32]algorithm.Algorithm
	indexes map[uint32]index.Index
	items   map[string]struct{}
	closed  bool
}

// New returns a Matcher with an empty pipeline.
func New(optFns ...Option) *Matcher {
	opts := applyOptions(optFns)
	return &Matcher{
		opts:     opts,
		pipeline: pipeline.New(),
		rc:       opts.resources(),
		algos:    make(map[uint32]algorithm.Algorithm),
		indexes:  make(map[uint32]index.Index),
		items:    make(map[string]struct{}),
	}
}

// AddAlgorithm appends algo to the pipeline with the given settings. If algo
// is already part of the pipeline its settings are replaced and it keeps its
// position.
func (m *Matcher) AddAlgorithm(algo algorithm.Algorithm, s pipeline.Settings) (err error) {
	name := algo.Spec().String()
	defer func() {
		m.opts.logger.LogAlgorithmChange(context.Background(), "add", name, err)
	}()

	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	id := algo.ID()
	if idx, ok := m.indexes[id]; ok {
		if idx.BitResolution() != algo.BitResolution() {
			return fmt.Errorf("%w: %s has %d bits, index holds %d",
				ErrIncompatibleHash, name, algo.BitResolution(), idx.BitResolution())
		}
	} else {
		idx, err := m.opts.indexFactory(id, algo.BitResolution())
		if err != nil {
			return fmt.Errorf("create index for %s: %w", name, err)
		}
		m.indexes[id] = idx
	}
	m.algos[id] = algo

	return m.pipeline.Add(algo, s)
}

// RemoveAlgorithm removes algo from the pipeline and reports whether it was
// present. Its index is kept.
func (m *Matcher) RemoveAlgorithm(algo algorithm.Algorithm) bool {
	removed := m.pipeline.Remove(algo.ID())
	if removed {
		m.opts.logger.LogAlgorithmChange(context.Background(), "remove", algo.Spec().String(), nil)
	}
	return removed
}

// ClearAlgorithms empties the pipeline. Indexes are kept.
func (m *Matcher) ClearAlgorithms() {
	m.pipeline.Clear()
	m.opts.logger.LogAlgorithmChange(context.Background(), "clear", "", nil)
}

// Algorithms returns the pipeline in execution order.
func (m *Matcher) Algorithms() []pipeline.Entry {
	return m.pipeline.Snapshot()
}

// Match returns the indexed images within every stage's threshold of img,
// ascending by the distance of the last stage. Ties are ordered by ID.
//
// Match fails with ErrInvalidState if the pipeline is empty. An empty result
// is not an error.
func (m *Matcher) Match(ctx context.Context, img image.Image) (_ []index.Candidate, err error) {
	start := time.Now()
	entries := m.pipeline.Snapshot()

	var results []index.Candidate
	defer func() {
		d := time.Since(start)
		m.opts.metricsCollector.RecordMatch(d, len(results), err)
		m.opts.logger.LogMatch(ctx, len(entries), len(results), d, err)
	}()

	if m.isClosed() {
		return nil, ErrClosed
	}
	if len(entries) == 0 {
		return nil, ErrInvalidState
	}

	if err := m.rc.AcquireMatch(ctx); err != nil {
		return nil, err
	}
	defer m.rc.ReleaseMatch()

	indexes, err := m.stageIndexes(entries)
	if err != nil {
		return nil, err
	}

	stages := make([]cascade.Stage, len(entries))
	for i, e := range entries {
		idx := indexes[i]
		stages[i] = cascade.Stage{
			Name: e.Algorithm.Spec().String(),
			Run: func(ctx context.Context) ([]index.Candidate, error) {
				h, err := e.Algorithm.Hash(img)
				if err != nil {
					return nil, err
				}
				return idx.Query(ctx, h, e.Settings.Resolve(e.Algorithm.BitResolution()))
			},
		}
	}

	results, err = cascade.Run(ctx, stages, m.opts.parallelism)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, translateError(err)
	}
	return results, nil
}

func (m *Matcher) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Matcher) stageIndexes(entries []pipeline.Entry) ([]index.Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	out := make([]index.Index, len(entries))
	for i, e := range entries {
		idx, ok := m.indexes[e.Algorithm.ID()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, e.Algorithm.Spec())
		}
		out[i] = idx
	}
	return out, nil
}

// AddImage hashes img under every algorithm of the pipeline and stores the
// hashes under id. Adding an existing id replaces it; hashes the item had
// under algorithms outside the current pipeline are dropped.
func (m *Matcher) AddImage(ctx context.Context, id string, img image.Image) (err error) {
	start := time.Now()
	entries := m.pipeline.Snapshot()
	defer func() {
		m.opts.metricsCollector.RecordAddImage(time.Since(start), err)
		m.opts.logger.LogAddImage(ctx, id, len(entries), err)
	}()

	if m.isClosed() {
		return ErrClosed
	}
	if id == "" {
		return ErrInvalidID
	}
	if len(entries) == 0 {
		return ErrInvalidState
	}

	hashes := make([]imghash.Hash, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	if m.opts.parallelism > 0 {
		g.SetLimit(m.opts.parallelism)
	}
	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := e.Algorithm.Hash(img)
			if err != nil {
				return &StageError{Stage: i, Algorithm: e.Algorithm.Spec().String(), cause: err}
			}
			hashes[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	inPipeline := make(map[uint32]struct{}, len(entries))
	for i, e := range entries {
		algID := e.Algorithm.ID()
		inPipeline[algID] = struct{}{}
		idx, ok := m.indexes[algID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAlgorithm, e.Algorithm.Spec())
		}
		if err := idx.Insert(id, hashes[i]); err != nil {
			return &StageError{Stage: i, Algorithm: e.Algorithm.Spec().String(), cause: translateError(err)}
		}
	}
	for algID, idx := range m.indexes {
		if _, ok := inPipeline[algID]; !ok {
			idx.Delete(id)
		}
	}
	m.items[id] = struct{}{}
	return nil
}

// AddHash stores a precomputed hash under id in the index of the hash's
// algorithm. The algorithm must have been added to the matcher before, but
// need not be part of the pipeline right now.
func (m *Matcher) AddHash(id string, h imghash.Hash) (err error) {
	start := time.Now()
	defer func() {
		m.opts.metricsCollector.RecordAddImage(time.Since(start), err)
		m.opts.logger.LogAddImage(context.Background(), id, 1, err)
	}()

	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	idx, ok := m.indexes[h.Algorithm()]
	if !ok {
		return fmt.Errorf("%w: %08x", ErrUnknownAlgorithm, h.Algorithm())
	}
	if err := idx.Insert(id, h); err != nil {
		return translateError(err)
	}
	m.items[id] = struct{}{}
	return nil
}

// RemoveImage deletes id from every index and reports whether it was present.
func (m *Matcher) RemoveImage(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}

	for _, idx := range m.indexes {
		idx.Delete(id)
	}
	_, found := m.items[id]
	delete(m.items, id)

	m.opts.metricsCollector.RecordRemoveImage(found)
	return found
}

// Contains reports whether id is stored in any index.
func (m *Matcher) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.items[id]
	return ok
}

// Len returns the number of distinct image IDs stored.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.items)
}

// Hash returns the hash stored for id under algo.
func (m *Matcher) Hash(id string, algo algorithm.Algorithm) (imghash.Hash, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indexes[algo.ID()]
	if !ok {
		return imghash.Hash{}, false
	}
	return idx.Get(id)
}

// Close releases all indexes. Subsequent operations fail with ErrClosed.
// Close is idempotent.
func (m *Matcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	ids := make([]uint32, 0, len(m.indexes))
	for id := range m.indexes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var errs []error
	for _, id := range ids {
		if err := m.indexes[id].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
