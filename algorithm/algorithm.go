package algorithm

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/imgmatch/imghash"
	"github.com/hupe1980/imgmatch/internal/checksum"
)

var (
	// ErrUnknownKind is returned when no constructor is registered for a kind.
	ErrUnknownKind = errors.New("unknown algorithm kind")

	// ErrInvalidSize is returned when an algorithm is configured with an
	// unsupported size.
	ErrInvalidSize = errors.New("invalid algorithm size")

	// ErrEmptyImage is returned when an image is nil or has empty bounds.
	ErrEmptyImage = errors.New("empty image")
)

// Kind names a hashing algorithm family.
type Kind string

const (
	// KindAverage compares every pixel against the mean brightness.
	KindAverage Kind = "ahash"
	// KindDifference compares horizontally adjacent pixels.
	KindDifference Kind = "dhash"
	// KindPerceptual compares low-frequency DCT coefficients against their median.
	KindPerceptual Kind = "phash"
)

// Spec identifies a configured algorithm. Two algorithms with equal specs
// produce identical hashes for identical images.
type Spec struct {
	Kind Kind `json:"kind"`
	Size int  `json:"size"`
}

// String returns the canonical "<kind>/<size>" form.
func (s Spec) String() string {
	return string(s.Kind) + "/" + strconv.Itoa(s.Size)
}

// ID returns the stable identifier hashes produced under s are tagged with.
func (s Spec) ID() uint32 {
	return checksum.CRC32C([]byte(s.String()))
}

// ParseSpec parses the "<kind>/<size>" form produced by Spec.String.
func ParseSpec(s string) (Spec, error) {
	kind, size, ok := strings.Cut(s, "/")
	if !ok {
		return Spec{}, fmt.Errorf("algorithm: malformed spec %q", s)
	}
	n, err := strconv.Atoi(size)
	if err != nil {
		return Spec{}, fmt.Errorf("algorithm: malformed spec %q: %w", s, err)
	}
	return Spec{Kind: Kind(kind), Size: n}, nil
}

// Algorithm turns an image into a fixed-length perceptual hash.
//
// Implementations must be deterministic and safe for concurrent use. The
// image is only borrowed for the duration of Hash and must not be retained.
type Algorithm interface {
	// ID returns the identifier attached to every produced hash.
	ID() uint32
	// Spec returns the configuration the algorithm was built from.
	Spec() Spec
	// BitResolution returns the length of produced hashes in bits.
	BitResolution() int
	// Hash computes the hash of img.
	Hash(img image.Image) (imghash.Hash, error)
}

// Constructor builds an algorithm of one kind for the given size.
type Constructor func(size int) (Algorithm, error)

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Constructor{}
)

func init() {
	Register(KindAverage, func(size int) (Algorithm, error) { return NewAverage(size) })
	Register(KindDifference, func(size int) (Algorithm, error) { return NewDifference(size) })
	Register(KindPerceptual, func(size int) (Algorithm, error) { return NewPerceptual(size) })
}

// Register makes a constructor available to New under kind. Registering the
// same kind twice replaces the previous constructor.
func Register(kind Kind, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = ctor
}

// New builds the algorithm described by spec.
func New(spec Spec) (Algorithm, error) {
	registryMu.RLock()
	ctor, ok := registry[spec.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
	return ctor(spec.Size)
}

// Kinds returns the registered kinds in sorted order.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

type base struct {
	spec Spec
	id   uint32
	bits int
}

func newBase(kind Kind, size, bits int) base {
	spec := Spec{Kind: kind, Size: size}
	return base{spec: spec, id: spec.ID(), bits: bits}
}

func (b base) ID() uint32 { return b.id }

func (b base) Spec() Spec { return b.spec }

func (b base) BitResolution() int { return b.bits }

func (b base) String() string { return b.spec.String() }

func checkSize(kind Kind, size, lo, hi int) error {
	if size < lo || size > hi {
		return fmt.Errorf("%w: %s size %d not in [%d, %d]", ErrInvalidSize, kind, size, lo, hi)
	}
	return nil
}
