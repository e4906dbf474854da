package testutil

import (
	"image"
	"image/color"
	"math/bits"
	"math/rand"
	"sort"
	"sync"
)

// RangeResult is an item within a search radius.
type RangeResult struct {
	ID       string
	Distance int
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// HashWords returns random packed words for a hash of the given bit length.
// Bits beyond the length are zero.
func (r *RNG) HashWords(nbits int) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	words := make([]uint64, (nbits+63)/64)
	for i := range words {
		words[i] = r.rand.Uint64()
	}
	if rem := nbits % 64; rem != 0 {
		words[len(words)-1] &= (1 << uint(rem)) - 1
	}
	return words
}

// FlipBits returns a copy of words with n distinct bits below nbits flipped,
// so the copy is exactly n bits away from the original.
func (r *RNG) FlipBits(words []uint64, nbits, n int) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uint64, len(words))
	copy(out, words)
	for _, i := range r.rand.Perm(nbits)[:n] {
		out[i/64] ^= 1 << uint(i%64)
	}
	return out
}

// SmoothImage returns a w×h grayscale image whose brightness is bilinearly
// interpolated from a random (cells+1)² control grid with values in
// [48, 208]. The result has structure at every scale a perceptual hash
// looks at while leaving headroom for brightness edits.
func (r *RNG) SmoothImage(w, h, cells int) *image.Gray {
	r.mu.Lock()
	grid := make([]float64, (cells+1)*(cells+1))
	for i := range grid {
		grid[i] = 48 + r.rand.Float64()*160
	}
	r.mu.Unlock()

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		gy := float64(y) * float64(cells) / float64(h)
		y0 := int(gy)
		fy := gy - float64(y0)
		for x := 0; x < w; x++ {
			gx := float64(x) * float64(cells) / float64(w)
			x0 := int(gx)
			fx := gx - float64(x0)

			at := func(cx, cy int) float64 { return grid[cy*(cells+1)+cx] }
			top := at(x0, y0)*(1-fx) + at(x0+1, y0)*fx
			bottom := at(x0, y0+1)*(1-fx) + at(x0+1, y0+1)*fx
			img.SetGray(x, y, color.Gray{Y: uint8(top*(1-fy) + bottom*fy + 0.5)})
		}
	}
	return img
}

// Brighten returns a copy of img with delta added to every pixel, clamped
// to [0, 255].
func Brighten(img *image.Gray, delta int) *image.Gray {
	out := image.NewGray(img.Bounds())
	for i, v := range img.Pix {
		n := int(v) + delta
		if n < 0 {
			n = 0
		} else if n > 255 {
			n = 255
		}
		out.Pix[i] = uint8(n)
	}
	return out
}

// Invert returns the photographic negative of img.
func Invert(img *image.Gray) *image.Gray {
	out := image.NewGray(img.Bounds())
	for i, v := range img.Pix {
		out.Pix[i] = 255 - v
	}
	return out
}

// Patch returns a copy of img with a size×size square at (x, y) filled
// with value v.
func Patch(img *image.Gray, x, y, size int, v uint8) *image.Gray {
	out := image.NewGray(img.Bounds())
	copy(out.Pix, img.Pix)
	for py := y; py < y+size; py++ {
		for px := x; px < x+size; px++ {
			if image.Pt(px, py).In(out.Rect) {
				out.SetGray(px, py, color.Gray{Y: v})
			}
		}
	}
	return out
}

// BruteForceRange returns every item within maxDistance of query, ordered
// by distance and then ID. It is the ground truth for index tests.
func BruteForceRange(items map[string][]uint64, query []uint64, maxDistance int) []RangeResult {
	var out []RangeResult
	for id, words := range items {
		d := 0
		for i := range words {
			d += bits.OnesCount64(words[i] ^ query[i])
		}
		if d <= maxDistance {
			out = append(out, RangeResult{ID: id, Distance: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out
}
