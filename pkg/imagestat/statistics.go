// Package imagestat computes full-frame histogram statistics and the
// midtones transfer function (MTF) stretch used to preview a Frame.
//
// The histogram and median/MAD algorithm are adapted from the
// histogram-stepping approach in this project's imaging-primitives
// predecessor (CalculateStatisticsHistogram): a 65536-bucket linear
// histogram over the full uint16 range, a cumulative-count median, and
// a symmetric bucket-stepping MAD. Unlike that predecessor, statistics
// here are computed directly over the raw pixel buffer (no float
// normalization step is needed before the stretch is chosen), and a
// population (N, not N-1) variance is used throughout to match the
// single-frame descriptive-statistics convention this project follows.
package imagestat

import (
	"math"

	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
)

// Statistics is an alias for the shared Statistics value type, kept
// local so callers in this package can write imagestat.Statistics.
type Statistics = fitsmodel.Statistics

// StretchParams is an alias for the shared stretch-parameters type.
type StretchParams = fitsmodel.StretchParams

const numBuckets = 1 << 16

// madToSigma is the scale factor that makes MAD a consistent estimator
// of standard deviation under a normal distribution.
const madToSigma = 1.4826

// Compute returns the full-frame statistics for pixels, a row-major
// uint16 buffer of length width*height.
func Compute(pixels []uint16, width, height int) Statistics {
	histogram := make([]uint32, numBuckets)
	for _, p := range pixels {
		histogram[p]++
	}
	numPixels := int64(len(pixels))

	var minV, maxV uint16
	minV = 65535
	for i := range histogram {
		if histogram[i] == 0 {
			continue
		}
		if uint16(i) < minV {
			minV = uint16(i)
		}
		if uint16(i) > maxV {
			maxV = uint16(i)
		}
	}
	if numPixels == 0 {
		minV, maxV = 0, 0
	}

	median, medianBucket := computeMedian(histogram, numPixels)
	mad := computeMAD(histogram, numPixels, median, medianBucket)
	mean, stddev := computeMeanStdDev(histogram, numPixels)

	return Statistics{
		Width:  width,
		Height: height,
		Min:    minV,
		Max:    maxV,
		Mean:   mean,
		Median: median,
		StdDev: stddev,
		MAD:    mad * madToSigma,
	}
}

func computeMedian(histogram []uint32, numPixels int64) (float64, int) {
	if numPixels == 0 {
		return 0, 0
	}
	target := float64(numPixels) / 2.0
	var cumulative uint32
	for i := 0; i < numBuckets; i++ {
		cumulative += histogram[i]
		if float64(cumulative) >= target {
			return float64(i), i
		}
	}
	return float64(numBuckets - 1), numBuckets - 1
}

// computeMAD walks outward from the median bucket symmetrically,
// choosing whichever side is nearer the median at each step, until the
// accumulated count reaches half the population — the same
// histogram-stepping approach as the predecessor's CalculateStatisticsHistogram,
// operated over raw bucket indices instead of normalized [0,1) bounds.
func computeMAD(histogram []uint32, numPixels int64, median float64, medianBucket int) float64 {
	if numPixels == 0 {
		return 0
	}
	target := float64(numPixels) / 2.0
	upIndex := medianBucket
	downIndex := medianBucket - 1
	var cumulative uint32
	for {
		upDist := math.MaxFloat64
		if upIndex < numBuckets {
			upDist = math.Abs(float64(upIndex) - median)
		}
		downDist := math.MaxFloat64
		if downIndex >= 0 {
			downDist = math.Abs(float64(downIndex) - median)
		}
		if upDist == math.MaxFloat64 && downDist == math.MaxFloat64 {
			return 0
		}
		var chosen int
		if upDist <= downDist {
			chosen = upIndex
			upIndex++
		} else {
			chosen = downIndex
			downIndex--
		}
		cumulative += histogram[chosen]
		if float64(cumulative) >= target {
			return math.Abs(float64(chosen) - median)
		}
	}
}

func computeMeanStdDev(histogram []uint32, numPixels int64) (float64, float64) {
	if numPixels == 0 {
		return 0, 0
	}
	var total float64
	for i := 0; i < numBuckets; i++ {
		total += float64(histogram[i]) * float64(i)
	}
	mean := total / float64(numPixels)

	var sse float64
	for i := 0; i < numBuckets; i++ {
		d := float64(i) - mean
		sse += float64(histogram[i]) * d * d
	}
	return mean, math.Sqrt(sse / float64(numPixels))
}

// RoundEven rounds to the nearest integer, breaking ties to even
// (banker's rounding), matching the reference stretch pipeline's exact
// pixel-value rounding so stretched output is bit-for-bit reproducible.
func RoundEven(v float64) float64 {
	return math.RoundToEven(v)
}
