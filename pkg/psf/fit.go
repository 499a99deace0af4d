package psf

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"

	"github.com/karolbe/fitsgrade/internal/obsmetrics"
	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
	"github.com/karolbe/fitsgrade/pkg/mat"
)

// psfResolution controls how densely the sampling grid over a star's
// bounding box is built, kept from the predecessor's fitter unchanged.
const psfResolution = 1

// FitStar fits the chosen PSF model to star's pixel neighborhood in
// img, returning a populated fitsmodel.PsfFit. pixelScale is
// arcsec/pixel, used to convert the fitted FWHM to arcseconds.
func FitStar(img mat.Mat, star *fitsmodel.Star, model fitsmodel.PsfModel, pixelScale float64) *fitsmodel.PsfFit {
	bb := star.BoundingBox
	data := img.DataFloat32()
	width := img.Cols()

	var inputs [][]float64
	var targets []float64
	for y := bb.Min.Y; y < bb.Max.Y; y += psfResolution {
		for x := bb.Min.X; x < bb.Max.X; x += psfResolution {
			inputs = append(inputs, []float64{float64(x), float64(y)})
			targets = append(targets, float64(data[y*width+x]))
		}
	}
	if len(inputs) < 7 {
		return fitsmodel.NewPsfFit(model, star.Center.X, star.Center.Y, 0, star.Background, 0, 0, 0, 0, 0, 0, 0, pixelScale, false, 0)
	}

	amplitude := star.PeakBrightness
	if amplitude <= 0 {
		amplitude = 1e-6
	}
	background := star.Background
	sigmaGuess := math.Max(float64(bb.Dx()), float64(bb.Dy())) / 4.0
	if sigmaGuess <= 0 {
		sigmaGuess = 1.0
	}

	x0 := []float64{amplitude, background, star.Center.X, star.Center.Y, sigmaGuess, sigmaGuess, 0.0}
	lower := []float64{0, 0, float64(bb.Min.X), float64(bb.Min.Y), 0.1, 0.1, -math.Pi}
	upper := []float64{
		amplitude * 4,
		amplitude + background,
		float64(bb.Max.X),
		float64(bb.Max.Y),
		float64(bb.Dx()),
		float64(bb.Dy()),
		math.Pi,
	}

	modelTag := gaussianModelTag
	if model == fitsmodel.PsfModelMoffat {
		modelTag = moffatModel
	}

	res := levenbergMarquardt(modelTag, x0, lower, upper, inputs, targets)

	peak := res.params[0]
	background = res.params[1]
	offsetX := res.params[2]
	offsetY := res.params[3]
	sigmaX := res.params[4]
	sigmaY := res.params[5]
	theta := res.params[6]
	fwhmX := sigmaX * sigmaToFWHM
	fwhmY := sigmaY * sigmaToFWHM

	rSquared := computeRSquared(valueFunc(modelTag), res.params, inputs, targets)
	rmse := math.Sqrt(2.0 * res.cost / float64(len(targets)))

	return fitsmodel.NewPsfFit(model, offsetX, offsetY, peak, background, sigmaX, sigmaY, fwhmX, fwhmY, theta, rSquared, rmse, pixelScale, res.converged, res.iterations)
}

func computeRSquared(value modelFunc, params []float64, inputs [][]float64, targets []float64) float64 {
	var mean float64
	for _, t := range targets {
		mean += t
	}
	mean /= float64(len(targets))

	var ssRes, ssTot float64
	for i, input := range inputs {
		predicted := value(params, input)
		ssRes += (targets[i] - predicted) * (targets[i] - predicted)
		ssTot += (targets[i] - mean) * (targets[i] - mean)
	}
	if ssTot <= 0 {
		return 0
	}
	return 1.0 - ssRes/ssTot
}

// FitAll fits every star in parallel, bounded by a worker-pool
// semaphore sized workers, following the predecessor's
// goroutine+sync.WaitGroup fan-out shape for per-frame batch fitting.
func FitAll(ctx context.Context, logger *slog.Logger, img mat.Mat, stars []*fitsmodel.Star, model fitsmodel.PsfModel, pixelScale float64, workers int) {
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, s := range stars {
		select {
		case <-ctx.Done():
			return
		default:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(star *fitsmodel.Star) {
			defer wg.Done()
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				return
			default:
			}

			fit := FitStar(img, star, model, pixelScale)
			star.Psf = fit
			obsmetrics.PSFFitsTotal.WithLabelValues(model.String(), strconv.FormatBool(fit.Converged)).Inc()
			if !fit.Converged {
				logger.Debug("psf fit did not converge", "x", star.Center.X, "y", star.Center.Y, "iterations", fit.Iterations)
			}
		}(s)
	}

	wg.Wait()
}
