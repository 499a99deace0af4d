// Package metrics promotes the ad hoc per-frame summary this
// project's demo CLI used to compute inline in main() into a reusable
// aggregator: given a Frame and its detected, PSF-fitted stars, produce
// a FrameMetrics summary (star count, average/median HFR, average
// FWHM/eccentricity), optionally enriched with field-tilt analysis.
package metrics

import (
	"sort"

	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
)

// FieldAnalyzer matches pkg/detect.AnalyzeField's signature, injected
// here to avoid pkg/metrics importing pkg/detect for a single
// optional call.
type FieldAnalyzer func(stars []*fitsmodel.Star, width, height int) *fitsmodel.FieldAnalysis

// Aggregate builds a FrameMetrics summary from frame and its stars.
// When withField is non-nil, it is invoked to attach field-tilt
// analysis to the result.
func Aggregate(frameID string, frame *fitsmodel.Frame, stars []*fitsmodel.Star, withField FieldAnalyzer) *fitsmodel.FrameMetrics {
	fm := &fitsmodel.FrameMetrics{
		FrameID:   frameID,
		Target:    frame.Target,
		Filter:    frame.Filter,
		ExpStart:  frame.ExpStart,
		StarCount: len(stars),
	}

	if len(stars) == 0 {
		if withField != nil {
			fm.Field = withField(stars, frame.Width, frame.Height)
		}
		return fm
	}

	hfrValues := make([]float64, len(stars))
	var fwhmSum, eccSum float64
	var fwhmCount, eccCount int

	for i, s := range stars {
		hfrValues[i] = s.HFR
		if s.Psf != nil {
			fwhmSum += s.Psf.FWHMPixels
			fwhmCount++
			eccSum += s.Psf.Eccentricity
			eccCount++
		}
	}

	fm.AvgHFR = mean(hfrValues)
	fm.MedianHFR = median(hfrValues)
	if fwhmCount > 0 {
		fm.AvgFWHMPixels = fwhmSum / float64(fwhmCount)
	}
	if eccCount > 0 {
		fm.AvgEccentricity = eccSum / float64(eccCount)
	}

	if withField != nil {
		fm.Field = withField(stars, frame.Width, frame.Height)
	}

	return fm
}

func mean(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s / float64(len(values))
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}
