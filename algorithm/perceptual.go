package algorithm

import (
	"image"
	"math"
	"sort"

	"github.com/hupe1980/imgmatch/imghash"
)

// oversample is the ratio between the sampled thumbnail edge and the
// retained coefficient block edge.
const oversample = 4

// PerceptualHash keeps the size×size lowest frequencies of a 2D DCT-II over a
// (4·size)² thumbnail and sets a bit for every coefficient above the median
// of the block (DC term excluded from the median).
type PerceptualHash struct {
	base
	samples int
	// cos[u*samples+x] = alpha(u) * cos((2x+1)uπ / 2S)
	cos []float64
}

// NewPerceptual returns a perceptual hash producing size*size bits.
func NewPerceptual(size int) (*PerceptualHash, error) {
	if err := checkSize(KindPerceptual, size, 2, 64); err != nil {
		return nil, err
	}

	s := size * oversample
	table := make([]float64, size*s)
	for u := 0; u < size; u++ {
		alpha := math.Sqrt(2 / float64(s))
		if u == 0 {
			alpha = math.Sqrt(1 / float64(s))
		}
		for x := 0; x < s; x++ {
			table[u*s+x] = alpha * math.Cos(float64(2*x+1)*float64(u)*math.Pi/float64(2*s))
		}
	}

	return &PerceptualHash{
		base:    newBase(KindPerceptual, size, size*size),
		samples: s,
		cos:     table,
	}, nil
}

// Hash implements Algorithm.
func (p *PerceptualHash) Hash(img image.Image) (imghash.Hash, error) {
	n, s := p.spec.Size, p.samples
	px, err := luminance(img, s, s)
	if err != nil {
		return imghash.Hash{}, err
	}

	coef := p.dct(px)

	rest := make([]float64, len(coef)-1)
	copy(rest, coef[1:])
	sort.Float64s(rest)
	median := rest[len(rest)/2]
	if len(rest)%2 == 0 {
		median = (rest[len(rest)/2-1] + rest[len(rest)/2]) / 2
	}

	b := imghash.NewBuilder(p.id, n*n)
	for i, c := range coef {
		b.SetTo(i, c > median)
	}
	return b.Hash(), nil
}

// dct returns the n×n low-frequency block of the separable DCT-II of the
// s×s input, row-major by vertical frequency.
func (p *PerceptualHash) dct(px []float64) []float64 {
	n, s := p.spec.Size, p.samples

	// Rows: rowT[y*n+u].
	rowT := make([]float64, s*n)
	for y := 0; y < s; y++ {
		row := px[y*s : (y+1)*s]
		for u := 0; u < n; u++ {
			basis := p.cos[u*s : (u+1)*s]
			var sum float64
			for x, v := range row {
				sum += v * basis[x]
			}
			rowT[y*n+u] = sum
		}
	}

	out := make([]float64, n*n)
	for v := 0; v < n; v++ {
		basis := p.cos[v*s : (v+1)*s]
		for u := 0; u < n; u++ {
			var sum float64
			for y := 0; y < s; y++ {
				sum += rowT[y*n+u] * basis[y]
			}
			out[v*n+u] = sum
		}
	}
	return out
}
