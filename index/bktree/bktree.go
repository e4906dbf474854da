// Package bktree provides a BK-tree hash index.
//
// A BK-tree stores every hash as a node whose children are keyed by their
// hamming distance to the parent. A range query with radius r at a node at
// distance d from the query only descends into children keyed within
// [d-r, d+r], by the triangle inequality.
package bktree

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/imgmatch/imghash"
	"github.com/hupe1980/imgmatch/index"
)

// Compile-time check to ensure Tree satisfies index.Index.
var _ index.Index = (*Tree)(nil)

// DefaultCompactRatio is the tombstone fraction that triggers a rebuild.
const DefaultCompactRatio = 0.5

// minCompactNodes keeps small trees from rebuilding on every delete.
const minCompactNodes = 64

type node struct {
	id       string
	words    []uint64
	children map[int]uint32
}

// Tree is a BK-tree over packed hash words. Deleted nodes stay in the tree
// as routing nodes and are tracked in a roaring bitmap until the tree is
// compacted.
type Tree struct {
	mu           sync.RWMutex
	algorithm    uint32
	bits         int
	nodes        []node
	byID         map[string]uint32
	tombstones   *roaring.Bitmap
	compactRatio float64
	closed       bool
}

// Options configures a Tree.
type Options struct {
	// CompactRatio is the fraction of tombstoned nodes above which the tree
	// is rebuilt from its live items. Zero selects DefaultCompactRatio; a
	// negative value disables compaction.
	CompactRatio float64
}

// New creates an empty tree.
func New(algorithm uint32, bits int, optFns ...func(o *Options)) *Tree {
	opts := Options{CompactRatio: DefaultCompactRatio}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.CompactRatio == 0 {
		opts.CompactRatio = DefaultCompactRatio
	}

	return &Tree{
		algorithm:    algorithm,
		bits:         bits,
		byID:         make(map[string]uint32),
		tombstones:   roaring.New(),
		compactRatio: opts.CompactRatio,
	}
}

// Factory is an index.Factory producing BK-trees with default options.
func Factory(algorithm uint32, bits int) (index.Index, error) {
	return New(algorithm, bits), nil
}

// Algorithm implements index.Index.
func (t *Tree) Algorithm() uint32 { return t.algorithm }

// BitResolution implements index.Index.
func (t *Tree) BitResolution() int { return t.bits }

// Insert implements index.Index.
func (t *Tree) Insert(id string, h imghash.Hash) error {
	if id == "" {
		return index.ErrEmptyID
	}
	if err := index.CheckHash(t, h); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return index.ErrClosed
	}

	if n, ok := t.byID[id]; ok {
		t.tombstones.Add(n)
		delete(t.byID, id)
	}
	t.insertLocked(id, h.Words())
	t.maybeCompactLocked()
	return nil
}

func (t *Tree) insertLocked(id string, words []uint64) {
	n := uint32(len(t.nodes))
	t.nodes = append(t.nodes, node{id: id, words: words})
	t.byID[id] = n
	if n == 0 {
		return
	}

	cur := uint32(0)
	for {
		d := imghash.Distance(words, t.nodes[cur].words)
		next, ok := t.nodes[cur].children[d]
		if !ok {
			if t.nodes[cur].children == nil {
				t.nodes[cur].children = make(map[int]uint32)
			}
			t.nodes[cur].children[d] = n
			return
		}
		cur = next
	}
}

// Delete implements index.Index.
func (t *Tree) Delete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	t.tombstones.Add(n)
	t.maybeCompactLocked()
	return true
}

func (t *Tree) maybeCompactLocked() {
	if t.compactRatio < 0 || len(t.nodes) < minCompactNodes {
		return
	}
	if float64(t.tombstones.GetCardinality()) <= t.compactRatio*float64(len(t.nodes)) {
		return
	}
	t.compactLocked()
}

// Compact rebuilds the tree from its live items, dropping tombstones.
func (t *Tree) Compact() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.compactLocked()
}

func (t *Tree) compactLocked() {
	ids := make([]string, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	old := t.nodes
	oldIDs := t.byID
	t.nodes = make([]node, 0, len(ids))
	t.byID = make(map[string]uint32, len(ids))
	t.tombstones.Clear()
	for _, id := range ids {
		t.insertLocked(id, old[oldIDs[id]].words)
	}
}

// Get implements index.Index.
func (t *Tree) Get(id string) (imghash.Hash, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.byID[id]
	if !ok {
		return imghash.Hash{}, false
	}
	h, err := imghash.New(t.algorithm, t.bits, t.nodes[n].words)
	return h, err == nil
}

// Query implements index.Index.
func (t *Tree) Query(ctx context.Context, h imghash.Hash, maxDistance int) ([]index.Candidate, error) {
	if err := index.CheckQuery(t, h, maxDistance); err != nil {
		return nil, err
	}
	q := h.Words()

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, index.ErrClosed
	}

	out := make([]index.Candidate, 0)
	if len(t.nodes) == 0 {
		return out, nil
	}

	stack := []uint32{0}
	visited := 0
	for len(stack) > 0 {
		if visited++; visited%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nd := &t.nodes[n]

		d := imghash.Distance(q, nd.words)
		if d <= maxDistance && !t.tombstones.Contains(n) {
			out = append(out, index.Candidate{ID: nd.id, Distance: d})
		}
		for k, child := range nd.children {
			if k >= d-maxDistance && k <= d+maxDistance {
				stack = append(stack, child)
			}
		}
	}

	index.SortCandidates(out)
	return out, nil
}

// All implements index.Index.
func (t *Tree) All() iter.Seq2[string, imghash.Hash] {
	return func(yield func(string, imghash.Hash) bool) {
		t.mu.RLock()
		ids := make([]string, 0, len(t.byID))
		words := make(map[string][]uint64, len(t.byID))
		for id, n := range t.byID {
			ids = append(ids, id)
			words[id] = t.nodes[n].words
		}
		t.mu.RUnlock()

		sort.Strings(ids)
		for _, id := range ids {
			h, err := imghash.New(t.algorithm, t.bits, words[id])
			if err != nil {
				continue
			}
			if !yield(id, h) {
				return
			}
		}
	}
}

// Len implements index.Index.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// Stats describes the shape of a tree.
type Stats struct {
	Nodes      int
	Live       int
	Tombstones int
	Depth      int
}

// Stats returns the current tree statistics.
func (t *Tree) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stats{
		Nodes:      len(t.nodes),
		Live:       len(t.byID),
		Tombstones: int(t.tombstones.GetCardinality()),
	}
	if len(t.nodes) == 0 {
		return s
	}

	type frame struct {
		n     uint32
		depth int
	}
	stack := []frame{{0, 1}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > s.Depth {
			s.Depth = f.depth
		}
		for _, c := range t.nodes[f.n].children {
			stack = append(stack, frame{c, f.depth + 1})
		}
	}
	return s
}

// Close implements index.Index.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.nodes = nil
	t.byID = map[string]uint32{}
	t.tombstones.Clear()
	return nil
}
