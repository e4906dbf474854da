// Package index provides the per-algorithm hash indexes queried by the
// matcher.
//
// An Index stores the hashes of a single algorithm and answers bounded
// hamming range queries: every item within a maximum distance, ordered by
// distance and then ID, with no false negatives.
//
// Three implementations are available:
//
//   - flat: exhaustive scan over packed words, best for small collections
//   - bktree: BK-tree pruning on the triangle inequality (default)
//   - sqlindex: SQLite table with a hamming_distance SQL function
//
// # Index Selection
//
//   - flat: <10K items or large radii, where pruning does not pay off
//   - bktree: general purpose, in-memory
//   - sqlindex: collections that should live in a SQLite database file
//
// All indexes are interchangeable through Factory.
package index
