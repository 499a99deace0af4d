package detect

import (
	"math"
	"sort"

	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
)

// Field tilt analysis is not a spec-named module on its own, but a
// natural post-processing step over a detected star list that the
// frame metrics aggregator can optionally request. Kept and adapted
// from this project's previous 3x3-zone tilt analysis, unchanged in
// algorithm, generalized to operate on fitsmodel.Star instead of a
// detector-local Star type.
const (
	fieldEdgeFraction    = 0.25
	minStarsPerZone      = 3
	minTotalStarsForTilt = 20
)

var zoneLabels = map[fitsmodel.ZonePosition]string{
	fitsmodel.ZoneTopLeft:     "TL",
	fitsmodel.ZoneTop:         "T",
	fitsmodel.ZoneTopRight:    "TR",
	fitsmodel.ZoneLeft:        "L",
	fitsmodel.ZoneCenter:      "Center",
	fitsmodel.ZoneRight:       "R",
	fitsmodel.ZoneBottomLeft:  "BL",
	fitsmodel.ZoneBottom:      "B",
	fitsmodel.ZoneBottomRight: "BR",
}

var cornerPositions = []fitsmodel.ZonePosition{
	fitsmodel.ZoneTopLeft, fitsmodel.ZoneTopRight, fitsmodel.ZoneBottomLeft, fitsmodel.ZoneBottomRight,
}

// AnalyzeField divides the frame into a 3x3 grid and computes per-zone
// HFR/FWHM statistics plus tilt and off-axis percentages.
func AnalyzeField(stars []*fitsmodel.Star, width, height int) *fitsmodel.FieldAnalysis {
	if len(stars) == 0 {
		return nil
	}

	xLo := float64(width) * fieldEdgeFraction
	xHi := float64(width) * (1.0 - fieldEdgeFraction)
	yLo := float64(height) * fieldEdgeFraction
	yHi := float64(height) * (1.0 - fieldEdgeFraction)

	zoneStars := make(map[fitsmodel.ZonePosition][]*fitsmodel.Star)
	for _, pos := range []fitsmodel.ZonePosition{
		fitsmodel.ZoneTopLeft, fitsmodel.ZoneTop, fitsmodel.ZoneTopRight,
		fitsmodel.ZoneLeft, fitsmodel.ZoneCenter, fitsmodel.ZoneRight,
		fitsmodel.ZoneBottomLeft, fitsmodel.ZoneBottom, fitsmodel.ZoneBottomRight,
	} {
		zoneStars[pos] = nil
	}

	for _, s := range stars {
		pos := classifyZone(s.Center.X, s.Center.Y, xLo, xHi, yLo, yHi)
		zoneStars[pos] = append(zoneStars[pos], s)
	}

	zones := make(map[fitsmodel.ZonePosition]fitsmodel.ZoneData)
	for pos, list := range zoneStars {
		zones[pos] = computeZoneData(pos, list)
	}

	result := &fitsmodel.FieldAnalysis{Zones: zones}

	centerHFR := zones[fitsmodel.ZoneCenter].MedianHFR
	if centerHFR <= 0 {
		result.Reliable = false
		return result
	}

	var bestCorner, worstCorner fitsmodel.ZonePosition
	bestHFR := math.MaxFloat64
	worstHFR := 0.0
	validCorners := 0

	for _, pos := range cornerPositions {
		z := zones[pos]
		if z.StarCount < minStarsPerZone {
			continue
		}
		validCorners++
		if z.MedianHFR < bestHFR {
			bestHFR = z.MedianHFR
			bestCorner = pos
		}
		if z.MedianHFR > worstHFR {
			worstHFR = z.MedianHFR
			worstCorner = pos
		}
	}

	if validCorners >= 2 && worstHFR > 0 {
		result.TiltPct = (worstHFR - bestHFR) / centerHFR * 100.0
		result.BestCorner = zoneLabels[bestCorner]
		result.WorstCorner = zoneLabels[worstCorner]
	}

	var offAxisSum float64
	offAxisCount := 0
	for pos, z := range zones {
		if pos == fitsmodel.ZoneCenter || z.StarCount < minStarsPerZone {
			continue
		}
		offAxisSum += z.MedianHFR
		offAxisCount++
	}
	if offAxisCount > 0 {
		avgOffAxis := offAxisSum / float64(offAxisCount)
		result.OffAxisPct = (avgOffAxis - centerHFR) / centerHFR * 100.0
	}

	result.Reliable = len(stars) >= minTotalStarsForTilt && validCorners >= 4 && zones[fitsmodel.ZoneCenter].StarCount >= minStarsPerZone

	return result
}

func classifyZone(x, y, xLo, xHi, yLo, yHi float64) fitsmodel.ZonePosition {
	var col, row int
	switch {
	case x < xLo:
		col = 0
	case x < xHi:
		col = 1
	default:
		col = 2
	}
	switch {
	case y < yLo:
		row = 0
	case y < yHi:
		row = 1
	default:
		row = 2
	}

	grid := [3][3]fitsmodel.ZonePosition{
		{fitsmodel.ZoneTopLeft, fitsmodel.ZoneTop, fitsmodel.ZoneTopRight},
		{fitsmodel.ZoneLeft, fitsmodel.ZoneCenter, fitsmodel.ZoneRight},
		{fitsmodel.ZoneBottomLeft, fitsmodel.ZoneBottom, fitsmodel.ZoneBottomRight},
	}
	return grid[row][col]
}

func computeZoneData(pos fitsmodel.ZonePosition, stars []*fitsmodel.Star) fitsmodel.ZoneData {
	zd := fitsmodel.ZoneData{Label: zoneLabels[pos], StarCount: len(stars)}
	if len(stars) == 0 {
		return zd
	}

	hfrValues := make([]float64, len(stars))
	for i, s := range stars {
		hfrValues[i] = s.HFR
	}
	zd.MedianHFR = medianFloat64(hfrValues)

	var fwhmValues []float64
	for _, s := range stars {
		if s.Psf != nil {
			fwhmValues = append(fwhmValues, s.Psf.FWHMPixels)
		}
	}
	if len(fwhmValues) > 0 {
		zd.MedianFWHM = medianFloat64(fwhmValues)
	}

	return zd
}

func medianFloat64(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}
