package grading

import (
	"fmt"
	"math"

	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
)

type rejectDirection int

const (
	rejectHigh rejectDirection = iota // HFR: only high outliers reject
	rejectLow                         // star_count: only low outliers reject
)

// distributionCheck precomputes one metric's group-wide mean/median/
// stddev/mad once per group, then evaluates each frame against
// whichever of z-score or MAD is selected by the skew test.
type distributionCheck struct {
	metric    func(*fitsmodel.FrameMetrics) float64
	direction rejectDirection
	threshold float64

	mean   float64
	median float64
	stddev float64
	mad    float64
	skewed bool

	zscoreReason, madReason string
}

func newDistributionCheck(group []*fitsmodel.FrameMetrics, metric func(*fitsmodel.FrameMetrics) float64, threshold, medianShiftThreshold float64, dir rejectDirection) *distributionCheck {
	values := make([]float64, len(group))
	for i, f := range group {
		values[i] = metric(f)
	}
	if len(values) == 0 {
		return &distributionCheck{metric: metric, direction: dir, threshold: threshold, mad: -1}
	}

	m := mean(values)
	med := medianFloat64(values)
	sd := stddevPopulation(values, m)
	mad := madFrom(values, med)

	shift := math.Abs(med-m) / math.Max(math.Abs(m), epsilon)

	dc := &distributionCheck{
		metric:    metric,
		direction: dir,
		threshold: threshold,
		mean:      m,
		median:    med,
		stddev:    sd,
		mad:       mad,
		skewed:    shift > medianShiftThreshold,
	}
	if dir == rejectHigh {
		dc.zscoreReason = ReasonHFRZScore
		dc.madReason = ReasonHFRMAD
	} else {
		dc.zscoreReason = ReasonStarsZScore
		dc.madReason = ReasonStarsMAD
	}
	return dc
}

// evaluate returns (reasonCode, humanReason, rejected) for one frame.
// skewedModeAllowed gates whether the skewed-distribution MAD fallback
// (GradingConfig.EnableDistribution) may fire at all; when disabled,
// z-score is always used regardless of skew.
func (dc *distributionCheck) evaluate(frame *fitsmodel.FrameMetrics, skewedModeAllowed bool) (string, string, bool) {
	x := dc.metric(frame)
	useMAD := dc.skewed && skewedModeAllowed

	var score float64
	var comparator, code string
	if useMAD {
		diff := x - dc.median
		if dc.mad <= 0 {
			// A zero MAD means over half the group shares the median
			// exactly; any non-zero deviation is unboundedly many MADs
			// away, so treat it as an infinite score rather than
			// silently accepting it.
			if diff == 0 {
				return "", "", false
			}
			score = math.Inf(1)
			if diff < 0 {
				score = math.Inf(-1)
			}
		} else {
			score = diff / dc.mad
		}
		comparator = "MAD"
		code = dc.madReason
	} else {
		if dc.stddev <= 0 {
			return "", "", false
		}
		score = (x - dc.mean) / dc.stddev
		comparator = "sigma"
		code = dc.zscoreReason
	}

	var directional float64
	switch dc.direction {
	case rejectHigh:
		directional = score
	case rejectLow:
		directional = -score
	}
	if directional <= dc.threshold {
		return "", "", false
	}

	var reason string
	if useMAD {
		reason = fmt.Sprintf("value %.3f deviates %.2f MADs from median %.3f (threshold %.2f)", x, math.Abs(score), dc.median, dc.threshold)
	} else {
		reason = fmt.Sprintf("value %.3f is %.2f%s from mean %.3f (threshold %.2f%s)", x, math.Abs(score), comparator, dc.mean, dc.threshold, comparator)
	}
	return code, reason, true
}
