package index

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/hupe1980/imgmatch/imghash"
)

var (
	// ErrEmptyID is returned when an item is inserted without an identifier.
	ErrEmptyID = errors.New("empty item id")

	// ErrNegativeDistance is returned for a negative query radius.
	ErrNegativeDistance = errors.New("negative max distance")

	// ErrClosed is returned when an index is used after Close.
	ErrClosed = errors.New("index closed")
)

// Candidate is an item within the radius of a query together with its
// hamming distance to the query.
type Candidate struct {
	ID       string `json:"id"`
	Distance int    `json:"distance"`
}

// Index stores the hashes of one algorithm and answers bounded hamming
// range queries. Implementations are safe for concurrent use.
type Index interface {
	// Algorithm returns the algorithm ID all stored hashes carry.
	Algorithm() uint32

	// BitResolution returns the bit length all stored hashes carry.
	BitResolution() int

	// Insert stores h under id, replacing any previous hash for id.
	Insert(id string, h imghash.Hash) error

	// Delete removes id and reports whether it was present.
	Delete(id string) bool

	// Get returns the hash stored under id.
	Get(id string) (imghash.Hash, bool)

	// Query returns every item within maxDistance of h, ascending by
	// distance and then by ID, without duplicates.
	Query(ctx context.Context, h imghash.Hash, maxDistance int) ([]Candidate, error)

	// All yields the stored items ordered by ID.
	All() iter.Seq2[string, imghash.Hash]

	// Len returns the number of stored items.
	Len() int

	// Close releases resources held by the index.
	Close() error
}

// Factory creates an empty index for the given algorithm and bit resolution.
type Factory func(algorithm uint32, bits int) (Index, error)

// CheckHash verifies that h can be stored in or queried against idx.
func CheckHash(idx Index, h imghash.Hash) error {
	if h.Algorithm() != idx.Algorithm() || h.BitResolution() != idx.BitResolution() {
		return fmt.Errorf("%w: index holds %08x/%d bits, got %08x/%d bits",
			imghash.ErrIncompatible, idx.Algorithm(), idx.BitResolution(), h.Algorithm(), h.BitResolution())
	}
	return nil
}

// CheckQuery validates the arguments of a range query.
func CheckQuery(idx Index, h imghash.Hash, maxDistance int) error {
	if maxDistance < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeDistance, maxDistance)
	}
	return CheckHash(idx, h)
}

// SortCandidates orders candidates ascending by distance, breaking ties by ID.
func SortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Distance != c[j].Distance {
			return c[i].Distance < c[j].Distance
		}
		return c[i].ID < c[j].ID
	})
}

// IDs returns the identifiers of c in order.
func IDs(c []Candidate) []string {
	out := make([]string, len(c))
	for i := range c {
		out[i] = c[i].ID
	}
	return out
}
