package algorithm

import (
	"image"
	"testing"

	"github.com/hupe1980/imgmatch/imghash"
	"github.com/hupe1980/imgmatch/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpec(t *testing.T) {
	s := Spec{Kind: KindDifference, Size: 8}
	assert.Equal(t, "dhash/8", s.String())

	parsed, err := ParseSpec("dhash/8")
	require.NoError(t, err)
	assert.Equal(t, s, parsed)
	assert.Equal(t, s.ID(), parsed.ID())
	assert.NotEqual(t, s.ID(), Spec{Kind: KindDifference, Size: 9}.ID())

	_, err = ParseSpec("dhash")
	assert.Error(t, err)
	_, err = ParseSpec("dhash/x")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	tests := []struct {
		spec Spec
		bits int
	}{
		{Spec{KindAverage, 8}, 64},
		{Spec{KindDifference, 8}, 64},
		{Spec{KindPerceptual, 16}, 256},
		{Spec{KindPerceptual, 8}, 64},
	}

	for _, tt := range tests {
		t.Run(tt.spec.String(), func(t *testing.T) {
			a, err := New(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.spec, a.Spec())
			assert.Equal(t, tt.spec.ID(), a.ID())
			assert.Equal(t, tt.bits, a.BitResolution())
		})
	}

	_, err := New(Spec{Kind: "nope", Size: 8})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = New(Spec{Kind: KindPerceptual, Size: 1})
	assert.ErrorIs(t, err, ErrInvalidSize)

	assert.Equal(t, []Kind{KindAverage, KindDifference, KindPerceptual}, Kinds())
}

func TestEmptyImage(t *testing.T) {
	for _, kind := range []Kind{KindAverage, KindDifference, KindPerceptual} {
		a, err := New(Spec{Kind: kind, Size: 8})
		require.NoError(t, err)

		_, err = a.Hash(nil)
		assert.ErrorIs(t, err, ErrEmptyImage)

		_, err = a.Hash(image.NewGray(image.Rect(0, 0, 0, 0)))
		assert.ErrorIs(t, err, ErrEmptyImage)
	}
}

func hashOf(t *testing.T, a Algorithm, img image.Image) imghash.Hash {
	t.Helper()
	h, err := a.Hash(img)
	require.NoError(t, err)
	require.Equal(t, a.ID(), h.Algorithm())
	require.Equal(t, a.BitResolution(), h.BitResolution())
	return h
}

func distance(t *testing.T, a, b imghash.Hash) int {
	t.Helper()
	d, err := a.Distance(b)
	require.NoError(t, err)
	return d
}

func TestPerceptualProperties(t *testing.T) {
	rng := testutil.NewRNG(4711)
	img := rng.SmoothImage(128, 128, 8)

	specs := []Spec{
		{KindAverage, 8},
		{KindDifference, 8},
		{KindPerceptual, 16},
	}

	for _, spec := range specs {
		t.Run(spec.String(), func(t *testing.T) {
			a, err := New(spec)
			require.NoError(t, err)
			bits := a.BitResolution()

			base := hashOf(t, a, img)

			t.Run("Deterministic", func(t *testing.T) {
				assert.Equal(t, 0, distance(t, base, hashOf(t, a, img)))
			})

			t.Run("BrightnessShift", func(t *testing.T) {
				d := distance(t, base, hashOf(t, a, testutil.Brighten(img, 12)))
				assert.LessOrEqual(t, d, bits/10)
			})

			t.Run("SmallPatch", func(t *testing.T) {
				d := distance(t, base, hashOf(t, a, testutil.Patch(img, 20, 20, 4, 0)))
				assert.LessOrEqual(t, d, bits/8)
			})

			t.Run("Inverted", func(t *testing.T) {
				d := distance(t, base, hashOf(t, a, testutil.Invert(img)))
				assert.GreaterOrEqual(t, d, bits*3/4)
			})
		})
	}
}

func TestUniformImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 128
	}

	a, err := NewAverage(8)
	require.NoError(t, err)
	assert.Equal(t, 0, hashOf(t, a, img).OnesCount())

	d, err := NewDifference(8)
	require.NoError(t, err)
	assert.Equal(t, 0, hashOf(t, d, img).OnesCount())
}

func TestHashesAreIncompatibleAcrossAlgorithms(t *testing.T) {
	img := testutil.NewRNG(1).SmoothImage(64, 64, 4)

	a, err := NewAverage(8)
	require.NoError(t, err)
	d, err := NewDifference(8)
	require.NoError(t, err)

	_, err = hashOf(t, a, img).Distance(hashOf(t, d, img))
	assert.ErrorIs(t, err, imghash.ErrIncompatible)
}
