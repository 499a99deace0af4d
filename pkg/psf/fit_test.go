package psf

import (
	"context"
	"image"
	"log/slog"
	"math"
	"testing"

	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
	"github.com/karolbe/fitsgrade/pkg/mat"
)

func syntheticGaussianPixels(size int, cx, cy, sigma, amplitude, background float64) []uint16 {
	pixels := make([]uint16, size*size)
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

func TestFitStar_GaussianRecoversKnownSigma(t *testing.T) {
	const (
		size       = 32
		cx, cy     = 16.0, 16.0
		sigma      = 2.5
		amplitude  = 8000.0
		background = 200.0
	)
	pixels := syntheticGaussianPixels(size, cx, cy, sigma, amplitude, background)
	img := mat.ToFloat32Mat(pixels, 16, size, size)
	defer img.Close()

	star := &fitsmodel.Star{
		Center:         fitsmodel.Point2D{X: cx, Y: cy},
		Background:     background / 65536.0,
		PeakBrightness: amplitude / 65536.0,
		BoundingBox:    image.Rect(4, 4, 28, 28),
	}

	fit := FitStar(img, star, fitsmodel.PsfModelGaussian, 1.0)
	if !fit.Converged {
		t.Fatalf("fit did not converge after %d iterations", fit.Iterations)
	}
	if fit.RSquared < 0 || fit.RSquared > 1 {
		t.Errorf("RSquared = %v, want within [0,1]", fit.RSquared)
	}
	if math.Abs(fit.SigmaX-sigma) > 0.3 {
		t.Errorf("SigmaX = %v, want close to %v", fit.SigmaX, sigma)
	}
	if math.Abs(fit.SigmaY-sigma) > 0.3 {
		t.Errorf("SigmaY = %v, want close to %v", fit.SigmaY, sigma)
	}
}

func TestFitStar_TooFewSamplesDoesNotConverge(t *testing.T) {
	const size = 8
	pixels := make([]uint16, size*size)
	img := mat.ToFloat32Mat(pixels, 16, size, size)
	defer img.Close()

	star := &fitsmodel.Star{
		Center:      fitsmodel.Point2D{X: 4, Y: 4},
		Background:  0,
		BoundingBox: image.Rect(4, 4, 5, 5), // single pixel: fewer than 7 samples
	}

	fit := FitStar(img, star, fitsmodel.PsfModelGaussian, 1.0)
	if fit.Converged {
		t.Error("fit should not converge with fewer than 7 samples")
	}
}

func TestFitAll_SkipsOnCancelledContext(t *testing.T) {
	const size = 16
	pixels := make([]uint16, size*size)
	img := mat.ToFloat32Mat(pixels, 16, size, size)
	defer img.Close()

	stars := []*fitsmodel.Star{
		{Center: fitsmodel.Point2D{X: 8, Y: 8}, BoundingBox: image.Rect(2, 2, 14, 14)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	FitAll(ctx, slog.Default(), img, stars, fitsmodel.PsfModelGaussian, 1.0, 2)
	if stars[0].Psf != nil {
		t.Error("a star should not be fit once the context is already cancelled")
	}
}
