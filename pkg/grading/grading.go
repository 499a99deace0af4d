// Package grading implements the statistical grading engine: per-
// (target, filter) distribution-based outlier detection and cloud-
// sequence analysis, turning a batch of per-frame measurements into
// accept/reject decisions with stable reason codes and human-readable
// explanations.
//
// Grounded on this project's previous Rust grading engine
// (StatisticalGrader), reworked to this project's own precedence and
// switch semantics: cloud analysis runs before distribution rules, and
// a group's MAD-vs-z-score choice is an exclusive per-metric switch
// rather than running both checks unconditionally.
package grading

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/karolbe/fitsgrade/internal/obsmetrics"
	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
)

// Reason codes attached to GradingDecision.ReasonCode. Stable across
// versions; only the human message may change.
const (
	ReasonHFRZScore        = "grading.hfr_zscore"
	ReasonHFRMAD           = "grading.hfr_mad"
	ReasonStarsZScore      = "grading.stars_zscore"
	ReasonStarsMAD         = "grading.stars_mad"
	ReasonCloudHFR         = "grading.cloud_hfr"
	ReasonCloudStars       = "grading.cloud_stars"
	ReasonInsufficientData = "grading.insufficient_data"
)

const autoPrefix = "[Auto] "

// minGroupSizeForDistribution is the spec-required floor below which
// distribution-based rejection is exempted (still subject to cloud
// analysis, which only needs a rolling baseline).
const minGroupSizeForDistribution = 3

const epsilon = 1e-9

// Grade groups frames by (Target, Filter), orders each group by
// ExpStart ascending (ties broken by FrameID ascending), and returns
// exactly one GradingDecision per input frame. prior carries decisions
// from an earlier run, consulted only for ResetMode handling; it may
// be nil.
func Grade(ctx context.Context, logger *slog.Logger, frames []*fitsmodel.FrameMetrics, cfg fitsmodel.GradingConfig, prior []*fitsmodel.GradingDecision) ([]*fitsmodel.GradingDecision, error) {
	priorByFrame := make(map[string]*fitsmodel.GradingDecision, len(prior))
	for _, d := range prior {
		priorByFrame[d.FrameID] = d
	}

	groups := groupFrames(frames)
	groupKeys := make([]string, 0, len(groups))
	for k := range groups {
		groupKeys = append(groupKeys, k)
	}
	sort.Strings(groupKeys)

	decisions := make(map[string]*fitsmodel.GradingDecision, len(frames))

	for _, key := range groupKeys {
		select {
		case <-ctx.Done():
			return nil, fitsmodel.NewError(fitsmodel.ReasonCancelled, "grading cancelled", ctx.Err())
		default:
		}

		group := groups[key]
		sortGroup(group)

		hfrDist := newDistributionCheck(group, func(m *fitsmodel.FrameMetrics) float64 { return m.AvgHFR }, cfg.HFRStdDevThreshold, cfg.MedianShiftThreshold, rejectHigh)
		starsDist := newDistributionCheck(group, func(m *fitsmodel.FrameMetrics) float64 { return float64(m.StarCount) }, cfg.StarStdDevThreshold, cfg.MedianShiftThreshold, rejectLow)

		cloud := newCloudState(cfg.CloudBaselineCount, cfg.CloudThreshold, cfg.CloudStarCountThreshold)

		if len(group) < minGroupSizeForDistribution && (cfg.EnableHFR || cfg.EnableStars) {
			logger.Info(ReasonInsufficientData, "target", group[0].Target, "filter", group[0].Filter, "frame_count", len(group))
		}

		for _, frame := range group {
			select {
			case <-ctx.Done():
				return nil, fitsmodel.NewError(fitsmodel.ReasonCancelled, "grading cancelled", ctx.Err())
			default:
			}

			decisions[frame.FrameID] = gradeOne(frame, group, cfg, cloud, hfrDist, starsDist)
		}
	}

	out := make([]*fitsmodel.GradingDecision, 0, len(frames))
	for _, f := range frames {
		d := decisions[f.FrameID]
		final := applyResetMode(d, priorByFrame[f.FrameID], cfg.ResetMode)
		obsmetrics.GradingDecisionsTotal.WithLabelValues(final.Outcome.String(), final.ReasonCode).Inc()
		out = append(out, final)
	}
	return out, nil
}

func gradeOne(frame *fitsmodel.FrameMetrics, group []*fitsmodel.FrameMetrics, cfg fitsmodel.GradingConfig, cloud *cloudState, hfrDist, starsDist *distributionCheck) *fitsmodel.GradingDecision {
	decision := &fitsmodel.GradingDecision{FrameID: frame.FrameID, Outcome: fitsmodel.Accept}

	if cfg.EnableClouds {
		if code, reason, rejected := cloud.evaluate(frame); rejected {
			decision.Outcome = fitsmodel.Reject
			decision.ReasonCode = code
			decision.HumanReason = autoPrefix + reason
			return decision
		}
	}

	if len(group) >= minGroupSizeForDistribution {
		if cfg.EnableHFR {
			if code, reason, rejected := hfrDist.evaluate(frame, cfg.EnableDistribution); rejected {
				decision.Outcome = fitsmodel.Reject
				decision.ReasonCode = code
				decision.HumanReason = autoPrefix + reason
				return decision
			}
		}
		if cfg.EnableStars {
			if code, reason, rejected := starsDist.evaluate(frame, cfg.EnableDistribution); rejected {
				decision.Outcome = fitsmodel.Reject
				decision.ReasonCode = code
				decision.HumanReason = autoPrefix + reason
				return decision
			}
		}
	}

	return decision
}

func applyResetMode(fresh, prior *fitsmodel.GradingDecision, mode fitsmodel.ResetMode) *fitsmodel.GradingDecision {
	if prior == nil {
		return fresh
	}
	switch mode {
	case fitsmodel.ResetModeAll:
		return fresh
	case fitsmodel.ResetModeAutomatic:
		if prior.IsAuto() {
			return fresh
		}
		return prior
	default: // ResetModeNone
		if prior.Outcome == fitsmodel.Reject {
			return prior
		}
		return fresh
	}
}

func groupFrames(frames []*fitsmodel.FrameMetrics) map[string][]*fitsmodel.FrameMetrics {
	groups := make(map[string][]*fitsmodel.FrameMetrics)
	for _, f := range frames {
		key := f.Target + "\x00" + f.Filter
		groups[key] = append(groups[key], f)
	}
	return groups
}

func sortGroup(group []*fitsmodel.FrameMetrics) {
	sort.SliceStable(group, func(i, j int) bool {
		if group[i].ExpStart != group[j].ExpStart {
			return group[i].ExpStart < group[j].ExpStart
		}
		return group[i].FrameID < group[j].FrameID
	})
}

func mean(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s / float64(len(values))
}

func stddevPopulation(values []float64, m float64) float64 {
	var sse float64
	for _, v := range values {
		d := v - m
		sse += d * d
	}
	return math.Sqrt(sse / float64(len(values)))
}

func medianFloat64(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}

func madFrom(values []float64, med float64) float64 {
	abs := make([]float64, len(values))
	for i, v := range values {
		abs[i] = math.Abs(v - med)
	}
	return medianFloat64(abs)
}
