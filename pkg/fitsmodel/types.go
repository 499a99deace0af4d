// Package fitsmodel holds the shared value types passed between the
// fits, imagestat, mat, detect, psf, metrics and grading packages, so
// that none of those leaf packages need to import each other's types.
package fitsmodel

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// PsfModel identifies which point-spread-function model a fit used.
type PsfModel int

const (
	PsfModelGaussian PsfModel = iota
	PsfModelMoffat
)

func (m PsfModel) String() string {
	switch m {
	case PsfModelGaussian:
		return "Gaussian"
	case PsfModelMoffat:
		return "Moffat_4"
	default:
		return "Unknown"
	}
}

// RatioRect is a rectangle defined by ratios in [0, 1), used to express
// a detection region independent of the frame's pixel dimensions.
type RatioRect struct {
	StartX float64
	StartY float64
	Width  float64
	Height float64
}

var RatioRectFull = RatioRect{StartX: 0, StartY: 0, Width: 1, Height: 1}

func NewRatioRect(startX, startY, width, height float64) (RatioRect, error) {
	if startX < 0 || startX >= 1 {
		return RatioRect{}, fmt.Errorf("startX must be in [0, 1), got %f", startX)
	}
	if startY < 0 || startY >= 1 {
		return RatioRect{}, fmt.Errorf("startY must be in [0, 1), got %f", startY)
	}
	if width <= 0 {
		return RatioRect{}, fmt.Errorf("width must be positive, got %f", width)
	}
	if height <= 0 {
		return RatioRect{}, fmt.Errorf("height must be positive, got %f", height)
	}
	return RatioRect{
		StartX: startX,
		StartY: startY,
		Width:  math.Min(width, 1.0-startX),
		Height: math.Min(height, 1.0-startY),
	}, nil
}

func (r RatioRect) EndExclusiveX() float64 { return r.StartX + r.Width }
func (r RatioRect) EndExclusiveY() float64 { return r.StartY + r.Height }

func (r RatioRect) IsFull() bool { return r.Width >= 1 && r.Height >= 1 }

// Point2D is a 2D point with float64 coordinates.
type Point2D struct {
	X, Y float64
}

// Frame is a decoded FITS sub-exposure: the raw pixel buffer plus the
// header metadata needed to interpret and group it.
type Frame struct {
	Width    int
	Height   int
	Pixels   []uint16 // row-major, length Width*Height
	Target   string
	Filter   string
	ExpStart string // ISO-8601, from DATE-OBS
	CCDTemp  float64
	Headers  []HeaderCard // first-occurrence order preserved
}

// HeaderCard is one FITS header keyword/value pair.
type HeaderCard struct {
	Key   string
	Value string
}

// Lookup returns the value for key and whether it was present.
func (f *Frame) Lookup(key string) (string, bool) {
	for _, c := range f.Headers {
		if c.Key == key {
			return c.Value, true
		}
	}
	return "", false
}

// Statistics is the full-frame histogram-derived summary of a Frame.
type Statistics struct {
	Width  int
	Height int
	Min    uint16
	Max    uint16
	Mean   float64
	Median float64
	StdDev float64
	MAD    float64 // scaled by the 1.4826 normal-consistency constant
}

// StretchParams parameterizes the midtones transfer function stretch.
type StretchParams struct {
	Midtone       float64 // m in f(x;m) = (m-1)x / ((2m-1)x - m)
	ShadowClip    float64
	HighlightClip float64
}

// Star is one detected point source in a Frame.
type Star struct {
	Center         Point2D
	BoundingBox    image.Rectangle
	Background     float64
	MeanBrightness float64
	PeakBrightness float64
	Flux           float64
	HFR            float64
	Psf            *PsfFit
}

func (s *Star) String() string {
	return fmt.Sprintf("{Center=(%f,%f), BBox=%v, Background=%f, MeanBrightness=%f, PeakBrightness=%f, Flux=%f, HFR=%f, Psf=%v}",
		s.Center.X, s.Center.Y, s.BoundingBox, s.Background, s.MeanBrightness, s.PeakBrightness, s.Flux, s.HFR, s.Psf)
}

// AddOffset returns a copy of the star translated by (xOffset, yOffset),
// used when a star was found within a cropped detection region.
func (s *Star) AddOffset(xOffset, yOffset int) *Star {
	return &Star{
		Center:         Point2D{X: s.Center.X + float64(xOffset), Y: s.Center.Y + float64(yOffset)},
		BoundingBox:    s.BoundingBox.Add(image.Pt(xOffset, yOffset)),
		Background:     s.Background,
		MeanBrightness: s.MeanBrightness,
		PeakBrightness: s.PeakBrightness,
		Flux:           s.Flux,
		HFR:            s.HFR,
		Psf:            s.Psf,
	}
}

// PsfFit is the result of fitting a PSF model to one star's pixel data.
type PsfFit struct {
	Model        PsfModel
	OffsetX      float64
	OffsetY      float64
	Peak         float64
	Background   float64
	SigmaX       float64
	SigmaY       float64
	Sigma        float64
	FWHMx        float64
	FWHMy        float64
	ThetaRadians float64
	FWHMPixels   float64
	FWHMArcsecs  float64
	Eccentricity float64
	RSquared     float64
	RMSE         float64
	Converged    bool
	Iterations   int
}

// NewPsfFit fills in the derived fields (Sigma, eccentricity, FWHM in
// pixels/arcsec) from the directly-fitted parameters.
func NewPsfFit(model PsfModel, offsetX, offsetY, peak, background, sigmaX, sigmaY, fwhmX, fwhmY, thetaRadians, rSquared, rmse, pixelScale float64, converged bool, iterations int) *PsfFit {
	a := math.Max(fwhmX, fwhmY)
	b := math.Min(fwhmX, fwhmY)
	eccentricity := 0.0
	if a > 0 {
		eccentricity = math.Sqrt(1 - (b*b)/(a*a))
	}
	fwhmPixels := math.Sqrt(fwhmX * fwhmY)

	return &PsfFit{
		Model:        model,
		OffsetX:      offsetX,
		OffsetY:      offsetY,
		Peak:         peak,
		Background:   background,
		SigmaX:       sigmaX,
		SigmaY:       sigmaY,
		Sigma:        math.Sqrt(sigmaX * sigmaY),
		FWHMx:        fwhmX,
		FWHMy:        fwhmY,
		ThetaRadians: thetaRadians,
		Eccentricity: eccentricity,
		FWHMPixels:   fwhmPixels,
		FWHMArcsecs:  fwhmPixels * pixelScale,
		RSquared:     rSquared,
		RMSE:         rmse,
		Converged:    converged,
		Iterations:   iterations,
	}
}

func (p *PsfFit) String() string {
	return fmt.Sprintf("{Model=%s, Peak=%f, Background=%f, FWHMx=%f, FWHMy=%f, FWHMPixels=%f, FWHMArcsecs=%f, Eccentricity=%f, RSquared=%f, Converged=%v}",
		p.Model, p.Peak, p.Background, p.FWHMx, p.FWHMy, p.FWHMPixels, p.FWHMArcsecs, p.Eccentricity, p.RSquared, p.Converged)
}

// FrameMetrics is the Frame Metrics Aggregator's output: a per-frame
// summary derived from its detected and PSF-fitted stars.
type FrameMetrics struct {
	FrameID         string
	Target          string
	Filter          string
	ExpStart        string
	StarCount       int
	AvgHFR          float64
	MedianHFR       float64
	AvgFWHMPixels   float64
	AvgEccentricity float64
	Field           *FieldAnalysis // optional, nil unless requested
}

// ZonePosition identifies a zone in the 3x3 field grid used by field
// tilt analysis.
type ZonePosition int

const (
	ZoneTopLeft ZonePosition = iota
	ZoneTop
	ZoneTopRight
	ZoneLeft
	ZoneCenter
	ZoneRight
	ZoneBottomLeft
	ZoneBottom
	ZoneBottomRight
)

// ZoneData holds per-zone statistics for field tilt analysis.
type ZoneData struct {
	Label      string
	MedianHFR  float64
	MedianFWHM float64
	StarCount  int
}

// FieldAnalysis is the result of 3x3-zone field tilt/off-axis analysis.
type FieldAnalysis struct {
	Zones       map[ZonePosition]ZoneData
	TiltPct     float64
	OffAxisPct  float64
	BestCorner  string
	WorstCorner string
	Reliable    bool
}

// ResetMode controls how the grading engine treats decisions carried
// over from a prior run when regrading the same frames.
type ResetMode int

const (
	ResetModeNone ResetMode = iota
	ResetModeAutomatic
	ResetModeAll
)

// GradingConfig is the full configuration surface of the statistical
// grading engine.
type GradingConfig struct {
	EnableHFR               bool      `json:"enable_hfr"`
	EnableStars             bool      `json:"enable_stars"`
	EnableDistribution      bool      `json:"enable_distribution"`
	EnableClouds            bool      `json:"enable_clouds"`
	HFRStdDevThreshold      float64   `json:"hfr_stddev"`
	StarStdDevThreshold     float64   `json:"star_stddev"`
	MedianShiftThreshold    float64   `json:"median_shift_threshold"`
	CloudThreshold          float64   `json:"cloud_threshold"`
	CloudStarCountThreshold float64   `json:"cloud_star_count_threshold"`
	CloudBaselineCount      int       `json:"cloud_baseline_count"`
	ResetMode               ResetMode `json:"reset_mode"`
	LookbackDays            int       `json:"lookback_days"`
}

// DefaultGradingConfig returns the spec-documented defaults.
func DefaultGradingConfig() GradingConfig {
	return GradingConfig{
		EnableHFR:               true,
		EnableStars:             true,
		EnableDistribution:      true,
		EnableClouds:            true,
		HFRStdDevThreshold:      2.0,
		StarStdDevThreshold:     2.0,
		MedianShiftThreshold:    0.10,
		CloudThreshold:          0.20,
		CloudStarCountThreshold: 0.20,
		CloudBaselineCount:      5,
		ResetMode:               ResetModeNone,
	}
}

// GradingOutcome is the accept/reject verdict attached to a frame.
type GradingOutcome int

const (
	Pending GradingOutcome = iota
	Accept
	Reject
)

func (o GradingOutcome) String() string {
	switch o {
	case Accept:
		return "Accept"
	case Reject:
		return "Reject"
	default:
		return "Pending"
	}
}

// GradingDecision is the grading engine's per-frame output. A prior
// decision with the same shape may be supplied back into a regrade
// call; HumanReason is prefixed with "[Auto]" when the engine, not a
// human, produced it.
type GradingDecision struct {
	FrameID        string
	Outcome        GradingOutcome
	ReasonCode     string
	HumanReason    string
	ConfidenceNote string
}

// IsAuto reports whether d was produced by the engine itself (as
// opposed to a human override), per the "[Auto]" convention.
func (d GradingDecision) IsAuto() bool {
	return strings.HasPrefix(d.HumanReason, "[Auto]")
}
