package detect

import (
	"image"
	"math"
	"testing"

	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
	"github.com/karolbe/fitsgrade/pkg/mat"
)

// syntheticGaussian builds a size x size uint16 buffer holding a 2-D
// Gaussian of the given sigma/amplitude over a flat background,
// matching the seed scenario in spec.md (synthetic Gaussian HFR
// compatibility check).
func syntheticGaussian(size int, sigma, amplitude, background float64) []uint16 {
	pixels := make([]uint16, size*size)
	cx := float64(size-1) / 2.0
	cy := float64(size-1) / 2.0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			v := background + amplitude*math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
			pixels[y*size+x] = uint16(v)
		}
	}
	return pixels
}

func TestComputeHFR_SyntheticGaussian(t *testing.T) {
	const (
		size       = 65 // odd: integer-pixel center, avoids half-pixel asymmetry
		center     = 32
		sigma      = 2.0
		amplitude  = 10000.0
		background = 100.0
		boxRadius  = 5 // ~2.5 sigma: matches a detector's typical blob bbox, not the full frame
	)
	pixels := syntheticGaussian(size, sigma, amplitude, background)
	img := mat.ToFloat32Mat(pixels, 16, size, size)
	defer img.Close()

	star := &fitsmodel.Star{
		Center:      fitsmodel.Point2D{X: center, Y: center},
		Background:  background / 65536.0,
		BoundingBox: image.Rect(center-boxRadius, center-boxRadius, center+boxRadius+1, center+boxRadius+1),
	}

	p := NewClassicParams()
	hfr, ok := computeHFR(img, star, p)
	if !ok {
		t.Fatal("computeHFR reported no flux")
	}
	if hfr < 2.30 || hfr > 2.45 {
		t.Errorf("HFR = %.4f, want within [2.30, 2.45] (closed form ~= sigma*sqrt(2 ln 2) = %.4f)", hfr, sigma*math.Sqrt(2*math.Log(2)))
	}
}

func TestComputeHFR_RejectsZeroFlux(t *testing.T) {
	pixels := make([]uint16, 16*16)
	img := mat.ToFloat32Mat(pixels, 16, 16, 16)
	defer img.Close()

	star := &fitsmodel.Star{
		Center:      fitsmodel.Point2D{X: 8, Y: 8},
		Background:  0,
		BoundingBox: image.Rect(0, 0, 16, 16),
	}

	p := NewClassicParams()
	if _, ok := computeHFR(img, star, p); ok {
		t.Error("computeHFR should reject a flat (zero-flux) image")
	}
}
