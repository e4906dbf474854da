// Package flat provides an exhaustive-scan hash index.
package flat

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/imgmatch/imghash"
	"github.com/hupe1980/imgmatch/index"
)

// Compile-time check to ensure Flat satisfies index.Index.
var _ index.Index = (*Flat)(nil)

// cancelCheckInterval is the number of slots scanned between context checks.
const cancelCheckInterval = 1024

type slot struct {
	id    string
	words []uint64
}

// Flat keeps hashes in a dense slot array and scans every live slot on
// query. Deleted slots are tracked in a roaring bitmap and reused.
type Flat struct {
	mu        sync.RWMutex
	algorithm uint32
	bits      int
	slots     []slot
	byID      map[string]uint32
	live      *roaring.Bitmap
	free      []uint32
	closed    bool
}

// New creates an empty flat index.
func New(algorithm uint32, bits int) *Flat {
	return &Flat{
		algorithm: algorithm,
		bits:      bits,
		byID:      make(map[string]uint32),
		live:      roaring.New(),
	}
}

// Factory is an index.Factory producing flat indexes.
func Factory(algorithm uint32, bits int) (index.Index, error) {
	return New(algorithm, bits), nil
}

// Algorithm implements index.Index.
func (f *Flat) Algorithm() uint32 { return f.algorithm }

// BitResolution implements index.Index.
func (f *Flat) BitResolution() int { return f.bits }

// Insert implements index.Index.
func (f *Flat) Insert(id string, h imghash.Hash) error {
	if id == "" {
		return index.ErrEmptyID
	}
	if err := index.CheckHash(f, h); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return index.ErrClosed
	}

	if s, ok := f.byID[id]; ok {
		f.slots[s].words = h.Words()
		return nil
	}

	var s uint32
	if n := len(f.free); n > 0 {
		s = f.free[n-1]
		f.free = f.free[:n-1]
		f.slots[s] = slot{id: id, words: h.Words()}
	} else {
		s = uint32(len(f.slots))
		f.slots = append(f.slots, slot{id: id, words: h.Words()})
	}
	f.byID[id] = s
	f.live.Add(s)
	return nil
}

// Delete implements index.Index.
func (f *Flat) Delete(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.byID[id]
	if !ok {
		return false
	}
	delete(f.byID, id)
	f.live.Remove(s)
	f.slots[s] = slot{}
	f.free = append(f.free, s)
	return true
}

// Get implements index.Index.
func (f *Flat) Get(id string) (imghash.Hash, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s, ok := f.byID[id]
	if !ok {
		return imghash.Hash{}, false
	}
	h, err := imghash.New(f.algorithm, f.bits, f.slots[s].words)
	return h, err == nil
}

// Query implements index.Index.
func (f *Flat) Query(ctx context.Context, h imghash.Hash, maxDistance int) ([]index.Candidate, error) {
	if err := index.CheckQuery(f, h, maxDistance); err != nil {
		return nil, err
	}
	q := h.Words()

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, index.ErrClosed
	}

	out := make([]index.Candidate, 0)
	n := 0
	it := f.live.Iterator()
	for it.HasNext() {
		s := it.Next()
		if n++; n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if d := imghash.Distance(q, f.slots[s].words); d <= maxDistance {
			out = append(out, index.Candidate{ID: f.slots[s].id, Distance: d})
		}
	}

	index.SortCandidates(out)
	return out, nil
}

// All implements index.Index.
func (f *Flat) All() iter.Seq2[string, imghash.Hash] {
	return func(yield func(string, imghash.Hash) bool) {
		f.mu.RLock()
		items := make([]slot, 0, len(f.byID))
		for id, s := range f.byID {
			items = append(items, slot{id: id, words: f.slots[s].words})
		}
		f.mu.RUnlock()

		sort.Slice(items, func(i, j int) bool { return items[i].id < items[j].id })
		for _, it := range items {
			h, err := imghash.New(f.algorithm, f.bits, it.words)
			if err != nil {
				continue
			}
			if !yield(it.id, h) {
				return
			}
		}
	}
}

// Len implements index.Index.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(f.live.GetCardinality())
}

// Close implements index.Index.
func (f *Flat) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.slots = nil
	f.byID = map[string]uint32{}
	f.live.Clear()
	f.free = nil
	return nil
}
