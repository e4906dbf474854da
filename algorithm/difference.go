package algorithm

import (
	"image"

	"github.com/hupe1980/imgmatch/imghash"
)

// DifferenceHash compares each pixel of a (size+1)×size thumbnail with its
// right neighbour. It tracks gradients rather than absolute brightness, which
// makes it cheap and robust as a coarse filter.
type DifferenceHash struct {
	base
}

// NewDifference returns a difference hash producing size*size bits.
func NewDifference(size int) (*DifferenceHash, error) {
	if err := checkSize(KindDifference, size, 2, 256); err != nil {
		return nil, err
	}
	return &DifferenceHash{base: newBase(KindDifference, size, size*size)}, nil
}

// Hash implements Algorithm.
func (d *DifferenceHash) Hash(img image.Image) (imghash.Hash, error) {
	size := d.spec.Size
	w := size + 1
	px, err := luminance(img, w, size)
	if err != nil {
		return imghash.Hash{}, err
	}

	b := imghash.NewBuilder(d.id, d.bits)
	for y := 0; y < size; y++ {
		row := px[y*w : (y+1)*w]
		for x := 0; x < size; x++ {
			b.SetTo(y*size+x, row[x] < row[x+1])
		}
	}
	return b.Hash(), nil
}
