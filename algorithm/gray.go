package algorithm

import (
	"image"

	"github.com/nfnt/resize"
)

// luminance downsamples img to w×h and returns row-major 16-bit luma values,
// weighted like color.Gray16Model. Values are integral so sums stay exact.
func luminance(img image.Image, w, h int) ([]float64, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}

	scaled := resize.Resize(uint(w), uint(h), img, resize.Bilinear)
	b := scaled.Bounds()

	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := scaled.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out[y*w+x] = float64((19595*r + 38470*g + 7471*bl + 1<<15) >> 16)
		}
	}
	return out, nil
}
