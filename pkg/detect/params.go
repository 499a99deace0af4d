// Package detect implements the star detection pipeline: resize,
// optional Gaussian blur, Canny edge response, SIS (Otsu) threshold,
// binary dilation, connected-component extraction, per-blob filtering,
// and Half-Flux-Radius measurement. Classic and Enhanced variants share
// this pipeline shape and differ in the dilation element (square vs.
// r-scaled ellipse, see dilationSizeFor) and the pre-Canny blur.
//
// The pipeline orchestration (ROI handling, a metrics accumulator
// tracking why each candidate blob was rejected, debug-image dump
// hooks, cooperative context cancellation) is adapted from this
// project's previous wavelet/flood-fill based detector; the detection
// algorithm itself is new.
package detect

import (
	"math"

	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
)

// Variant selects which detection algorithm runs.
type Variant int

const (
	VariantClassic Variant = iota
	VariantEnhanced
)

func (v Variant) String() string {
	if v == VariantEnhanced {
		return "enhanced"
	}
	return "classic"
}

// Sensitivity selects the formula for the working-resolution resize
// factor (see resizeFactor). High is a fixed 1/3, so it shrinks a frame
// narrower than 3*maxWidth (4656px) more than Normal does; Highest never
// shrinks below 2/3.
type Sensitivity int

const (
	SensitivityNormal Sensitivity = iota
	SensitivityHigh
	SensitivityHighest
)

// maxWidth is the Normal/Highest resize-factor reference width: under
// Normal a frame this wide or narrower resizes at 1:1; under Highest it
// is upscaled by maxWidth/width.
const maxWidth = 1552.0

// resizeFactor returns the working-image scale factor r for a
// sensitivity level given the (pre-resize) working image's width and
// its shortest side:
//
//	Normal:  min(1, maxWidth / width)
//	High:    fixed 1/3
//	Highest: max(2/3, maxWidth / width)
//
// On top of that formula, the resolved Open Question on very small or
// very large frames (see DESIGN.md) clamps r so the working image is
// never shrunk below 64px on its shortest side nor upscaled more than
// 4x; this clamp is an extension layered over the formula above, never
// a replacement for it.
func (s Sensitivity) resizeFactor(width, shortSide int) float64 {
	var r float64
	switch s {
	case SensitivityHigh:
		r = 1.0 / 3.0
	case SensitivityHighest:
		r = math.Max(2.0/3.0, maxWidth/float64(width))
	default: // SensitivityNormal
		r = math.Min(1.0, maxWidth/float64(width))
	}

	minFactor := 64.0 / float64(shortSide)
	if minFactor > 4.0 {
		minFactor = 4.0
	}
	if r < minFactor {
		r = minFactor
	}
	if r > 4.0 {
		r = 4.0
	}
	return r
}

// Per-blob discard bounds, expressed as multiples of the resize factor
// r and evaluated against the blob's bounding box in resized (working-
// image) coordinates, before back-projection to original coordinates.
const (
	minBBoxFactor     = 5.0   // discard if min(bbox.w, bbox.h) < minBBoxFactor * r
	maxBBoxFactor     = 150.0 // discard if max(bbox.w, bbox.h) > maxBBoxFactor * r
	areaFloorDivisor  = 1000.0
	enhancedDilationR = 3.0 // Enhanced elliptical structuring element radius ~= r * enhancedDilationR
)

// Params holds every tunable threshold the detector uses.
type Params struct {
	Variant     Variant
	Sensitivity Sensitivity

	CannyLow  float32
	CannyHigh float32
	CannyBlur bool // Classic uses NoBlur, Enhanced uses WithBlur

	DilationSize       int // classic's fixed square structuring element; Enhanced derives its own from r
	DilationIterations int

	MaxAspectRatio float64 // Open Question: kept tunable, default 2.0 (spec's 2:1)

	SaturationThreshold float64
	MinHFR              float64
	PixelScale          float64

	Region fitsmodel.RatioRect

	SaveIntermediateFilesPath string
}

// NewClassicParams returns the default parameter set for the Classic
// variant at Normal sensitivity.
func NewClassicParams() *Params {
	return &Params{
		Variant:             VariantClassic,
		Sensitivity:         SensitivityNormal,
		CannyLow:            50,
		CannyHigh:           150,
		CannyBlur:           false,
		DilationSize:        3,
		DilationIterations:  1,
		MaxAspectRatio:      2.0,
		SaturationThreshold: 0.99,
		MinHFR:              0.5,
		PixelScale:          1.0,
		Region:              fitsmodel.RatioRectFull,
	}
}

// NewEnhancedParams returns the default parameter set for the Enhanced
// variant: a pre-Canny blur and an elliptical dilation element (sized
// from the resolved resize factor at Detect time, see dilationSizeFor)
// to better merge a star's faint wings before blob extraction.
func NewEnhancedParams() *Params {
	p := NewClassicParams()
	p.Variant = VariantEnhanced
	p.CannyBlur = true
	return p
}

// dilationSizeFor returns the structuring-element size to dilate with
// at the given resize factor r: classic dilation is a fixed square
// element, Enhanced scales an elliptical element's radius by r (see
// spec §4.5.2(i): radius ~= r * 3).
func (p *Params) dilationSizeFor(r float64) int {
	if p.Variant != VariantEnhanced {
		return p.DilationSize
	}
	radius := r * enhancedDilationR
	if radius < 1 {
		radius = 1
	}
	size := int(math.Round(radius))*2 + 1
	return size
}

// Metrics accumulates why candidate blobs were rejected, for
// observability parity with the predecessor's StarDetectorMetrics.
type Metrics struct {
	CandidateCount    int
	TotalDetected     int
	TooSmall          int
	TooDistorted      int
	TooLarge          int
	Saturated         int
	LowSensitivity    int
	HFRAnalysisFailed int
	TooLowHFR         int
	OutsideROI        int
}

// Result is the detector's output.
type Result struct {
	Stars   []*fitsmodel.Star
	Metrics *Metrics
}
