// Package sqlindex provides a hash index stored in a SQLite table.
//
// Hashes are stored as little-endian BLOBs and compared with a
// hamming_distance scalar function registered with the modernc.org/sqlite
// driver. Several indexes can share one database; each uses its own table
// named after the algorithm ID.
package sqlindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"sync"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/hupe1980/imgmatch/imghash"
	"github.com/hupe1980/imgmatch/index"
)

// Compile-time check to ensure Index satisfies index.Index.
var _ index.Index = (*Index)(nil)

// Open opens a SQLite database with the hamming_distance function
// available. An empty dsn or ":memory:" opens a private in-memory database
// limited to a single connection, so every statement sees the same data.
func Open(dsn string) (*sql.DB, error) {
	registerFunctions()

	memory := dsn == "" || dsn == ":memory:"
	if memory {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// Index is an index.Index backed by one SQLite table.
type Index struct {
	db        *sql.DB
	ownsDB    bool
	table     string
	algorithm uint32
	bits      int

	mu     sync.RWMutex
	closed bool
}

// New creates (if needed) the table for algorithm in db and returns an
// index over it. The database is not closed by Close.
func New(ctx context.Context, db *sql.DB, algorithm uint32, bits int) (*Index, error) {
	idx := &Index{
		db:        db,
		table:     fmt.Sprintf("hashes_%08x_%d", algorithm, bits),
		algorithm: algorithm,
		bits:      bits,
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id    TEXT PRIMARY KEY,
		words BLOB NOT NULL
	) WITHOUT ROWID`, idx.table)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return nil, fmt.Errorf("sqlindex: create table: %w", err)
	}
	return idx, nil
}

// NewMemory returns an index in its own in-memory database.
func NewMemory(algorithm uint32, bits int) (*Index, error) {
	db, err := Open(":memory:")
	if err != nil {
		return nil, err
	}
	idx, err := New(context.Background(), db, algorithm, bits)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	idx.ownsDB = true
	return idx, nil
}

// Factory returns an index.Factory creating indexes inside db.
func Factory(db *sql.DB) index.Factory {
	return func(algorithm uint32, bits int) (index.Index, error) {
		return New(context.Background(), db, algorithm, bits)
	}
}

// MemoryFactory is an index.Factory creating indexes in private in-memory
// databases.
func MemoryFactory(algorithm uint32, bits int) (index.Index, error) {
	return NewMemory(algorithm, bits)
}

// Algorithm implements index.Index.
func (s *Index) Algorithm() uint32 { return s.algorithm }

// BitResolution implements index.Index.
func (s *Index) BitResolution() int { return s.bits }

func (s *Index) check() error {
	if s.closed {
		return index.ErrClosed
	}
	return nil
}

// Insert implements index.Index.
func (s *Index) Insert(id string, h imghash.Hash) error {
	if id == "" {
		return index.ErrEmptyID
	}
	if err := index.CheckHash(s, h); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (id, words) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET words = excluded.words`, s.table)
	if _, err := s.db.Exec(stmt, id, encodeWords(h.Words())); err != nil {
		return fmt.Errorf("sqlindex: insert %q: %w", id, err)
	}
	return nil
}

// Delete implements index.Index.
func (s *Index) Delete(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.check() != nil {
		return false
	}

	res, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table), id)
	if err != nil {
		return false
	}
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

// Get implements index.Index.
func (s *Index) Get(id string) (imghash.Hash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.check() != nil {
		return imghash.Hash{}, false
	}

	var blob []byte
	err := s.db.QueryRow(fmt.Sprintf(`SELECT words FROM %s WHERE id = ?`, s.table), id).Scan(&blob)
	if err != nil {
		return imghash.Hash{}, false
	}
	h, err := s.decode(blob)
	return h, err == nil
}

// Query implements index.Index.
func (s *Index) Query(ctx context.Context, h imghash.Hash, maxDistance int) ([]index.Candidate, error) {
	if err := index.CheckQuery(s, h, maxDistance); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`SELECT id, d FROM (
		SELECT id, hamming_distance(words, ?) AS d FROM %s
	) WHERE d <= ? ORDER BY d, id`, s.table)

	rows, err := s.db.QueryContext(ctx, stmt, encodeWords(h.Words()), maxDistance)
	if err != nil {
		return nil, fmt.Errorf("sqlindex: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]index.Candidate, 0)
	for rows.Next() {
		var c index.Candidate
		if err := rows.Scan(&c.ID, &c.Distance); err != nil {
			return nil, fmt.Errorf("sqlindex: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlindex: query: %w", err)
	}
	// SQLite orders TEXT by BINARY collation, which matches Go string order.
	return out, nil
}

// All implements index.Index.
func (s *Index) All() iter.Seq2[string, imghash.Hash] {
	return func(yield func(string, imghash.Hash) bool) {
		type item struct {
			id   string
			blob []byte
		}

		// Materialize first: yield may call back into the index and an
		// in-memory database only has one connection.
		var items []item
		s.mu.RLock()
		if s.check() == nil {
			rows, err := s.db.Query(fmt.Sprintf(`SELECT id, words FROM %s ORDER BY id`, s.table))
			if err == nil {
				for rows.Next() {
					var it item
					if rows.Scan(&it.id, &it.blob) == nil {
						items = append(items, it)
					}
				}
				_ = rows.Close()
			}
		}
		s.mu.RUnlock()

		for _, it := range items {
			h, err := s.decode(it.blob)
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
func (s *Index) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.check() != nil {
		return 0
	}

	var n int
	if err := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close implements index.Index. The database is closed only when the index
// created it.
func (s *Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func (s *Index) decode(blob []byte) (imghash.Hash, error) {
	if len(blob)%8 != 0 {
		return imghash.Hash{}, errors.New("sqlindex: malformed hash blob")
	}
	words := make([]uint64, len(blob)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(blob[8*i:])
	}
	return imghash.New(s.algorithm, s.bits, words)
}

func encodeWords(words []uint64) []byte {
	buf := make([]byte, 8*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[8*i:], w)
	}
	return buf
}
