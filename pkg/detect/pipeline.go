package detect

import (
	"context"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/karolbe/fitsgrade/internal/obsmetrics"
	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
	"github.com/karolbe/fitsgrade/pkg/imagestat"
	"github.com/karolbe/fitsgrade/pkg/mat"
)

// pixelScale matches mat.ToFloat32Mat's hardcoded 16-bit normalization
// (Detect always calls it with bpp=16): the working image's pixel
// values are fractions of this. round_even must operate at the
// granularity of one raw ADU, not one normalized-float unit, so every
// background subtraction is scaled up to ADU units, rounded, and
// scaled back down.
const pixelScale = 1 << 16

// roundEvenADU rounds a normalized-pixel background subtraction to the
// nearest whole ADU, breaking ties to even (spec's round_even), then
// returns the result back in normalized units.
func roundEvenADU(p, background float64) float64 {
	return imagestat.RoundEven((p-background)*pixelScale) / pixelScale
}

// Detect runs the full pipeline over a normalized [0,1] working image
// derived from a Frame: resize -> (optional blur +) Canny -> SIS
// threshold -> dilate -> connected components -> per-blob filter -> HFR.
func Detect(ctx context.Context, logger *slog.Logger, frame *fitsmodel.Frame, p *Params) (*Result, error) {
	variant := p.Variant.String()
	started := time.Now()
	defer func() {
		obsmetrics.DetectionLatency.WithLabelValues(variant).Observe(time.Since(started).Seconds())
	}()

	src := mat.ToFloat32Mat(frame.Pixels, 16, frame.Width, frame.Height)
	defer src.Close()

	var roi *image.Rectangle
	working := src
	if p.Region.Width < 1.0 || p.Region.Height < 1.0 {
		r := image.Rect(
			int(math.Floor(float64(frame.Width)*p.Region.StartX)),
			int(math.Floor(float64(frame.Height)*p.Region.StartY)),
			int(math.Floor(float64(frame.Width)*p.Region.StartX))+int(float64(frame.Width)*p.Region.Width),
			int(math.Floor(float64(frame.Height)*p.Region.StartY))+int(float64(frame.Height)*p.Region.Height),
		)
		roi = &r
		region := src.Region(r)
		working = region.Clone()
		defer working.Close()
	}

	width := working.Cols()
	shortSide := working.Rows()
	if width < shortSide {
		shortSide = width
	}
	scale := p.Sensitivity.resizeFactor(width, shortSide)

	resized, _ := mat.ResizeCubic(logger, working, scale)
	defer resized.Close()
	maybeSaveImage(resized, p.SaveIntermediateFilesPath, "01-resized.tif")

	edges, _ := mat.Canny(logger, resized, p.CannyLow, p.CannyHigh, p.CannyBlur)
	defer edges.Close()
	maybeSaveImage(edges, p.SaveIntermediateFilesPath, "02-canny.tif")

	mask, threshold := mat.SISThreshold(logger, edges)
	defer mask.Close()
	logger.Debug("detector sis threshold", "threshold", threshold)

	elliptical := p.Variant == VariantEnhanced
	dilated := mat.DilateBinary(mask, p.dilationSizeFor(scale), p.DilationIterations, elliptical)
	defer dilated.Close()
	maybeSaveImage(dilated, p.SaveIntermediateFilesPath, "03-dilated.tif")

	components := mat.ConnectedComponents(dilated)

	metrics := &Metrics{CandidateCount: len(components)}
	var stars []*fitsmodel.Star

	invScale := 1.0 / scale
	// Area floor is expressed against the (pre-resize) working frame's
	// own dimensions, per spec: discard if pixel area < ceil(max(w,h) /
	// 1000), where w,h are the frame being resized, distinct from the
	// bbox.w/bbox.h used by the next two bounds.
	areaFloor := math.Ceil(math.Max(float64(width), float64(working.Rows())) / areaFloorDivisor)

	for _, comp := range components {
		select {
		case <-ctx.Done():
			obsmetrics.StarsDetectedTotal.WithLabelValues(variant).Add(float64(len(stars)))
			return &Result{Stars: stars, Metrics: metrics}, ctx.Err()
		default:
		}

		// Per-blob filters run in resized (working-image) coordinates,
		// before back-projection, so they stay scaled to r the same way
		// spec's thresholds are defined.
		minSide := float64(comp.Bounds.Dx())
		maxSide := float64(comp.Bounds.Dy())
		if maxSide < minSide {
			minSide, maxSide = maxSide, minSide
		}

		if float64(comp.Area) < areaFloor {
			metrics.TooSmall++
			continue
		}
		if minSide < minBBoxFactor*scale {
			metrics.TooSmall++
			continue
		}
		if maxSide > maxBBoxFactor*scale {
			metrics.TooLarge++
			continue
		}
		if maxSide/minSide > p.MaxAspectRatio {
			metrics.TooDistorted++
			continue
		}

		// inverse-resize bbox back-projection: floor for x/y, ceiling for w/h
		bbox := image.Rect(
			int(math.Floor(float64(comp.Bounds.Min.X)*invScale)),
			int(math.Floor(float64(comp.Bounds.Min.Y)*invScale)),
			int(math.Floor(float64(comp.Bounds.Min.X)*invScale))+int(math.Ceil(float64(comp.Bounds.Dx())*invScale)),
			int(math.Floor(float64(comp.Bounds.Min.Y)*invScale))+int(math.Ceil(float64(comp.Bounds.Dy())*invScale)),
		)

		if bbox.Min.X < 0 || bbox.Min.Y < 0 || bbox.Max.X > working.Cols() || bbox.Max.Y > working.Rows() {
			metrics.OutsideROI++
			continue
		}

		star := measureStar(working, bbox, p, metrics)
		if star == nil {
			continue
		}

		if roi != nil {
			star = star.AddOffset(roi.Min.X, roi.Min.Y)
		}
		metrics.TotalDetected++
		stars = append(stars, star)
	}

	obsmetrics.StarsDetectedTotal.WithLabelValues(variant).Add(float64(len(stars)))
	return &Result{Stars: stars, Metrics: metrics}, nil
}

// measureStar computes background (the surrounding-ring mean),
// brightness centroid, and Half-Flux-Radius for one candidate blob.
func measureStar(img mat.Mat, bbox image.Rectangle, p *Params, metrics *Metrics) *fitsmodel.Star {
	background, peak, flux, center, meanBrightness, ok := starParameters(img, bbox, p)
	if !ok {
		metrics.TooSmall++
		return nil
	}
	if background+peak >= p.SaturationThreshold {
		metrics.Saturated++
		return nil
	}

	star := &fitsmodel.Star{
		Center:         center,
		BoundingBox:    bbox,
		Background:     background,
		MeanBrightness: meanBrightness,
		PeakBrightness: peak,
		Flux:           flux,
	}

	hfr, ok := computeHFR(img, star, p)
	if !ok {
		metrics.HFRAnalysisFailed++
		return nil
	}
	star.HFR = hfr

	diag := math.Hypot(float64(bbox.Dx()), float64(bbox.Dy()))
	if star.HFR <= p.MinHFR || star.HFR > diag {
		metrics.TooLowHFR++
		return nil
	}

	return star
}

// surroundingMean computes the mean of the 8-pixel ring immediately
// outside bbox (one pixel out on every side, clipped to the image):
// spec's SurroundingMean, the local background estimate for a blob.
func surroundingMean(img mat.Mat, bbox image.Rectangle) (float64, bool) {
	imgW, imgH := img.Cols(), img.Rows()
	data := img.DataFloat32()

	startX := max0(bbox.Min.X - 1)
	startY := max0(bbox.Min.Y - 1)
	endX := min(imgW, bbox.Max.X+1)
	endY := min(imgH, bbox.Max.Y+1)

	var sum float64
	var n int
	for y := startY; y < endY; y++ {
		for x := startX; x < endX; x++ {
			if x >= bbox.Min.X && x < bbox.Max.X && y >= bbox.Min.Y && y < bbox.Max.Y {
				continue
			}
			sum += float64(data[y*imgW+x])
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func starParameters(img mat.Mat, bbox image.Rectangle, p *Params) (background, peak, flux float64, center fitsmodel.Point2D, meanBrightness float64, ok bool) {
	imgW := img.Cols()
	data := img.DataFloat32()

	bg, ok := surroundingMean(img, bbox)
	if !ok {
		return 0, 0, 0, fitsmodel.Point2D{}, 0, false
	}

	var sx, sy, sz, total float64
	var count int
	for y := bbox.Min.Y; y < bbox.Max.Y; y++ {
		for x := bbox.Min.X; x < bbox.Max.X; x++ {
			v := roundEvenADU(float64(data[y*imgW+x]), bg)
			if v <= 0 {
				continue
			}
			sx += v * float64(x)
			sy += v * float64(y)
			sz += v
			total += v
			count++
			if v > peak {
				peak = v
			}
		}
	}
	if sz <= 0 || count == 0 {
		return 0, 0, 0, fitsmodel.Point2D{}, 0, false
	}

	return bg, peak, total, fitsmodel.Point2D{X: sx / sz, Y: sy / sz}, total / float64(count), true
}

// computeHFR computes the Half-Flux-Radius: the flux-weighted mean
// distance of background-subtracted pixels from the brightness
// centroid, bilinearly sampled over the bounding box.
func computeHFR(img mat.Mat, star *fitsmodel.Star, p *Params) (float64, bool) {
	bb := star.BoundingBox
	var totalBrightness, totalWeightedDistance float64

	for y := bb.Min.Y; y < bb.Max.Y; y++ {
		for x := bb.Min.X; x < bb.Max.X; x++ {
			v := roundEvenADU(mat.BilinearSamplePixelValue(img, float64(y), float64(x)), star.Background)
			if v <= 0 {
				continue
			}
			dx := float64(x) - star.Center.X
			dy := float64(y) - star.Center.Y
			d := math.Sqrt(dx*dx + dy*dy)
			totalWeightedDistance += v * d
			totalBrightness += v
		}
	}
	if totalBrightness <= 0 {
		return 0, false
	}
	return totalWeightedDistance / totalBrightness, true
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maybeSaveImage(img mat.Mat, savePath, filename string) {
	if savePath == "" {
		return
	}
	if _, err := os.Stat(savePath); os.IsNotExist(err) {
		return
	}
	mat.WriteDebugImage(filepath.Join(savePath, filename), img)
}
