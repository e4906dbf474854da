package algorithm

import (
	"image"

	"github.com/hupe1980/imgmatch/imghash"
)

// AverageHash sets a bit for every pixel of the size×size thumbnail that is
// brighter than the thumbnail's mean.
type AverageHash struct {
	base
}

// NewAverage returns an average hash producing size*size bits.
func NewAverage(size int) (*AverageHash, error) {
	if err := checkSize(KindAverage, size, 2, 256); err != nil {
		return nil, err
	}
	return &AverageHash{base: newBase(KindAverage, size, size*size)}, nil
}

// Hash implements Algorithm.
func (a *AverageHash) Hash(img image.Image) (imghash.Hash, error) {
	size := a.spec.Size
	px, err := luminance(img, size, size)
	if err != nil {
		return imghash.Hash{}, err
	}

	var mean float64
	for _, v := range px {
		mean += v
	}
	mean /= float64(len(px))

	b := imghash.NewBuilder(a.id, a.bits)
	for i, v := range px {
		b.SetTo(i, v > mean)
	}
	return b.Hash(), nil
}
