package imghash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

var (
	// ErrIncompatible is returned when two hashes produced by different
	// algorithms, or with different bit resolutions, are compared.
	ErrIncompatible = errors.New("incompatible hashes")

	// ErrInvalidHash is returned when raw words or encoded bytes do not
	// describe a valid hash.
	ErrInvalidHash = errors.New("invalid hash")
)

const headerSize = 8

// Hash is an immutable fixed-length bit vector tagged with the identifier of
// the algorithm that produced it.
//
// The zero value is an empty hash that is only compatible with itself.
type Hash struct {
	algorithm uint32
	bits      int
	set       *bitset.BitSet
}

// New creates a hash from its packed 64-bit words. Bit i lives in
// words[i/64] at position i%64. The words are copied.
func New(algorithm uint32, resolution int, words []uint64) (Hash, error) {
	if resolution < 0 {
		return Hash{}, fmt.Errorf("%w: negative bit resolution %d", ErrInvalidHash, resolution)
	}
	if len(words) != wordCount(resolution) {
		return Hash{}, fmt.Errorf("%w: %d bits need %d words, got %d", ErrInvalidHash, resolution, wordCount(resolution), len(words))
	}
	if rem := resolution % 64; rem != 0 && words[len(words)-1]>>uint(rem) != 0 {
		return Hash{}, fmt.Errorf("%w: bits set beyond resolution %d", ErrInvalidHash, resolution)
	}

	cp := make([]uint64, len(words))
	copy(cp, words)

	return Hash{algorithm: algorithm, bits: resolution, set: bitset.From(cp)}, nil
}

// MustNew is like New but panics on error. Intended for tests and constants.
func MustNew(algorithm uint32, resolution int, words []uint64) Hash {
	h, err := New(algorithm, resolution, words)
	if err != nil {
		panic(err)
	}
	return h
}

// Algorithm returns the identifier of the producing algorithm.
func (h Hash) Algorithm() uint32 { return h.algorithm }

// BitResolution returns the number of bits in the hash.
func (h Hash) BitResolution() int { return h.bits }

// IsZero reports whether h is the zero Hash.
func (h Hash) IsZero() bool { return h.set == nil && h.bits == 0 && h.algorithm == 0 }

// Bit reports whether bit i is set. Out-of-range positions report false.
func (h Hash) Bit(i int) bool {
	if i < 0 || i >= h.bits || h.set == nil {
		return false
	}
	return h.set.Test(uint(i))
}

// OnesCount returns the number of set bits.
func (h Hash) OnesCount() int {
	if h.set == nil {
		return 0
	}
	return int(h.set.Count())
}

// Words returns a copy of the packed words.
func (h Hash) Words() []uint64 {
	out := make([]uint64, wordCount(h.bits))
	if h.set != nil {
		copy(out, h.set.Words())
	}
	return out
}

// Compatible reports whether h and o can be compared.
func (h Hash) Compatible(o Hash) bool {
	return h.algorithm == o.algorithm && h.bits == o.bits
}

// Distance returns the hamming distance between h and o.
func (h Hash) Distance(o Hash) (int, error) {
	if !h.Compatible(o) {
		return 0, fmt.Errorf("%w: %08x/%d bits vs %08x/%d bits", ErrIncompatible, h.algorithm, h.bits, o.algorithm, o.bits)
	}
	if h.set == nil || o.set == nil {
		return 0, nil
	}
	return int(h.set.SymmetricDifferenceCardinality(o.set)), nil
}

// NormalizedDistance returns the hamming distance divided by the bit
// resolution, in [0, 1].
func (h Hash) NormalizedDistance(o Hash) (float64, error) {
	d, err := h.Distance(o)
	if err != nil {
		return 0, err
	}
	if h.bits == 0 {
		return 0, nil
	}
	return float64(d) / float64(h.bits), nil
}

// Equal reports whether h and o are compatible and carry the same bits.
func (h Hash) Equal(o Hash) bool {
	d, err := h.Distance(o)
	return err == nil && d == 0
}

// String renders the hash as "<algorithm>:<bits>:<hex words>", most
// significant word first.
func (h Hash) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%08x:%d:", h.algorithm, h.bits)
	words := h.Words()
	for i := len(words) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%016x", words[i])
	}
	return sb.String()
}

// MarshalBinary encodes the hash as algorithm (u32), bits (u32) and the
// packed words, all little endian.
func (h Hash) MarshalBinary() ([]byte, error) {
	words := h.Words()
	buf := make([]byte, headerSize+8*len(words))
	binary.LittleEndian.PutUint32(buf[0:4], h.algorithm)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.bits))
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[headerSize+8*i:], w)
	}
	return buf, nil
}

// UnmarshalBinary decodes data produced by MarshalBinary.
func (h *Hash) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("%w: short buffer (%d bytes)", ErrInvalidHash, len(data))
	}
	algorithm := binary.LittleEndian.Uint32(data[0:4])
	resolution := int(binary.LittleEndian.Uint32(data[4:8]))
	n := wordCount(resolution)
	if len(data) != headerSize+8*n {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidHash, headerSize+8*n, len(data))
	}
	words := make([]uint64, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[headerSize+8*i:])
	}
	decoded, err := New(algorithm, resolution, words)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// Builder accumulates bits for a single hash. It is not safe for concurrent
// use. Hash returns an independent copy, so a builder can be reused.
type Builder struct {
	algorithm uint32
	bits      int
	words     []uint64
}

// NewBuilder returns a builder for a hash of the given resolution.
func NewBuilder(algorithm uint32, resolution int) *Builder {
	if resolution < 0 {
		resolution = 0
	}
	return &Builder{
		algorithm: algorithm,
		bits:      resolution,
		words:     make([]uint64, wordCount(resolution)),
	}
}

// SetTo sets bit i to v. Positions outside the resolution are ignored.
func (b *Builder) SetTo(i int, v bool) {
	if i < 0 || i >= b.bits {
		return
	}
	if v {
		b.words[i/64] |= 1 << uint(i%64)
	} else {
		b.words[i/64] &^= 1 << uint(i%64)
	}
}

// Set sets bit i.
func (b *Builder) Set(i int) { b.SetTo(i, true) }

// Len returns the bit resolution of the hash under construction.
func (b *Builder) Len() int { return b.bits }

// Hash returns the accumulated hash.
func (b *Builder) Hash() Hash {
	cp := make([]uint64, len(b.words))
	copy(cp, b.words)
	return Hash{algorithm: b.algorithm, bits: b.bits, set: bitset.From(cp)}
}

// Distance computes the hamming distance of two packed word slices of equal
// length without building hashes. Used by indexes that store raw words.
func Distance(a, b []uint64) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	d := 0
	for i := 0; i < n; i++ {
		d += bits.OnesCount64(a[i] ^ b[i])
	}
	for _, w := range a[n:] {
		d += bits.OnesCount64(w)
	}
	for _, w := range b[n:] {
		d += bits.OnesCount64(w)
	}
	return d
}

func wordCount(resolution int) int {
	return (resolution + 63) / 64
}
