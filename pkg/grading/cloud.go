package grading

import (
	"fmt"

	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
)

type cloudPhase int

const (
	phaseWarming cloudPhase = iota
	phaseStable
	phaseRecovering
)

// cloudState is the three-state rolling-baseline state machine scoped
// to one (target, filter) group for the duration of a single Grade
// call: Warming accumulates the first baseline window, Stable compares
// each new frame against a baseline that rolls with it, and a
// rejection drops the group into Recovering, where every further frame
// is still tested against the baseline frozen at onset (so a
// continuing cloud keeps rejecting) until baseline_count consecutive
// clean frames accumulate and rebuild a fresh baseline.
type cloudState struct {
	baselineCount  int
	hfrThreshold   float64
	starsThreshold float64

	phase    cloudPhase
	window   []*fitsmodel.FrameMetrics
	frozen   cloudBaseline
	cleanRun int
}

func newCloudState(baselineCount int, hfrThreshold, starsThreshold float64) *cloudState {
	if baselineCount < 1 {
		baselineCount = 1
	}
	return &cloudState{baselineCount: baselineCount, hfrThreshold: hfrThreshold, starsThreshold: starsThreshold, phase: phaseWarming}
}

func (c *cloudState) evaluate(frame *fitsmodel.FrameMetrics) (code, reason string, rejected bool) {
	switch c.phase {
	case phaseWarming:
		c.window = append(c.window, frame)
		if len(c.window) >= c.baselineCount {
			c.phase = phaseStable
		}
		return "", "", false

	case phaseStable:
		baseline := c.rollingBaseline()
		code, reason, rejected = c.test(frame, baseline)
		if rejected {
			c.phase = phaseRecovering
			c.frozen = baseline
			c.window = nil
			c.cleanRun = 0
			return code, reason, true
		}
		c.window = append(c.window, frame)
		if len(c.window) > c.baselineCount {
			c.window = c.window[len(c.window)-c.baselineCount:]
		}
		return "", "", false

	case phaseRecovering:
		code, reason, rejected = c.test(frame, c.frozen)
		if rejected {
			c.window = nil
			c.cleanRun = 0
			return code, reason, true
		}
		c.window = append(c.window, frame)
		c.cleanRun++
		if c.cleanRun >= c.baselineCount {
			c.phase = phaseStable
		}
		return "", "", false
	}
	return "", "", false
}

type cloudBaseline struct {
	hfrMedian   float64
	starsMedian float64
}

// rollingBaseline computes the baseline from the current accumulated
// window (used in Stable, where the window trails the last
// baseline_count accepted frames).
func (c *cloudState) rollingBaseline() cloudBaseline {
	hfr := make([]float64, len(c.window))
	stars := make([]float64, len(c.window))
	for i, f := range c.window {
		hfr[i] = f.AvgHFR
		stars[i] = float64(f.StarCount)
	}
	return cloudBaseline{hfrMedian: medianFloat64(hfr), starsMedian: medianFloat64(stars)}
}

func (c *cloudState) test(frame *fitsmodel.FrameMetrics, b cloudBaseline) (string, string, bool) {
	if b.hfrMedian > 0 {
		if ratio := frame.AvgHFR/b.hfrMedian - 1.0; ratio > c.hfrThreshold {
			return ReasonCloudHFR, fmt.Sprintf("HFR %.3f is %.1f%% above baseline median %.3f (threshold %.0f%%)", frame.AvgHFR, ratio*100, b.hfrMedian, c.hfrThreshold*100), true
		}
	}
	if b.starsMedian > 0 {
		if drop := 1.0 - float64(frame.StarCount)/b.starsMedian; drop > c.starsThreshold {
			return ReasonCloudStars, fmt.Sprintf("star count %d is %.1f%% below baseline median %.1f (threshold %.0f%%)", frame.StarCount, drop*100, b.starsMedian, c.starsThreshold*100), true
		}
	}
	return "", "", false
}
