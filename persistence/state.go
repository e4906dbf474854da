package persistence

import (
	"fmt"

	"github.com/hupe1980/imgmatch/algorithm"
)

// State is the logical content of a snapshot.
type State struct {
	// Stages is the pipeline in execution order.
	Stages []Stage `json:"stages"`
	// Indexes holds every index the matcher owns, including indexes of
	// algorithms currently removed from the pipeline.
	Indexes []IndexState `json:"indexes"`
}

// Stage is one pipeline entry.
type Stage struct {
	Algorithm  algorithm.Spec `json:"algorithm"`
	Threshold  float64        `json:"threshold"`
	Normalized bool           `json:"normalized"`
}

// IndexState is the content of one per-algorithm index.
type IndexState struct {
	Algorithm algorithm.Spec `json:"algorithm"`
	Bits      int            `json:"bits"`
	Items     []Item         `json:"items"`
}

// Item is one indexed hash.
type Item struct {
	ID    string   `json:"id"`
	Words []uint64 `json:"words"`
}

// Validate checks the structural invariants a decoded state must satisfy.
func (s *State) Validate() error {
	stages := make(map[algorithm.Spec]struct{}, len(s.Stages))
	for i, st := range s.Stages {
		if _, dup := stages[st.Algorithm]; dup {
			return fmt.Errorf("%w: stage %d: duplicate algorithm %s", ErrCorrupt, i, st.Algorithm)
		}
		stages[st.Algorithm] = struct{}{}
	}

	indexes := make(map[algorithm.Spec]struct{}, len(s.Indexes))
	for _, idx := range s.Indexes {
		if _, dup := indexes[idx.Algorithm]; dup {
			return fmt.Errorf("%w: duplicate index for %s", ErrCorrupt, idx.Algorithm)
		}
		indexes[idx.Algorithm] = struct{}{}

		if idx.Bits <= 0 {
			return fmt.Errorf("%w: index %s: invalid bit resolution %d", ErrCorrupt, idx.Algorithm, idx.Bits)
		}
		words := (idx.Bits + 63) / 64
		ids := make(map[string]struct{}, len(idx.Items))
		for _, it := range idx.Items {
			if it.ID == "" {
				return fmt.Errorf("%w: index %s: empty item id", ErrCorrupt, idx.Algorithm)
			}
			if _, dup := ids[it.ID]; dup {
				return fmt.Errorf("%w: index %s: duplicate item %q", ErrCorrupt, idx.Algorithm, it.ID)
			}
			ids[it.ID] = struct{}{}
			if len(it.Words) != words {
				return fmt.Errorf("%w: index %s: item %q has %d words, want %d", ErrCorrupt, idx.Algorithm, it.ID, len(it.Words), words)
			}
		}
	}

	for _, st := range s.Stages {
		if _, ok := indexes[st.Algorithm]; !ok {
			return fmt.Errorf("%w: stage %s has no index", ErrCorrupt, st.Algorithm)
		}
	}
	return nil
}

// ItemCount returns the number of distinct item IDs across all indexes.
func (s *State) ItemCount() int {
	ids := make(map[string]struct{})
	for _, idx := range s.Indexes {
		for _, it := range idx.Items {
			ids[it.ID] = struct{}{}
		}
	}
	return len(ids)
}
