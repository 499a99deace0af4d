package grading

import (
	"context"
	"log/slog"
	"testing"

	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
)

func frameSeq(n int) []*fitsmodel.FrameMetrics {
	frames := make([]*fitsmodel.FrameMetrics, n)
	for i := 0; i < n; i++ {
		frames[i] = &fitsmodel.FrameMetrics{
			FrameID:  frameID(i + 1),
			Target:   "T",
			Filter:   "F",
			ExpStart: expStart(i),
		}
	}
	return frames
}

func frameID(n int) string {
	return "frame-" + string(rune('0'+n/10)) + string(rune('0'+n%10))
}

func expStart(i int) string {
	return "2026-01-01T00:" + string(rune('0'+i/10)) + string(rune('0'+i%10)) + ":00"
}

func TestGrade_HFROutlierZScore(t *testing.T) {
	hfr := []float64{2.8, 2.9, 2.7, 2.95, 2.85, 3.0, 2.8, 2.9, 2.85, 4.2}
	frames := frameSeq(10)
	for i, f := range frames {
		f.AvgHFR = hfr[i]
		f.StarCount = 500
	}

	cfg := fitsmodel.DefaultGradingConfig()
	cfg.EnableClouds = false

	decisions, err := Grade(context.Background(), slog.Default(), frames, cfg, nil)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}

	for i, d := range decisions {
		if i == 9 {
			if d.Outcome != fitsmodel.Reject || d.ReasonCode != ReasonHFRZScore {
				t.Errorf("frame 10: got outcome=%s reason=%s, want Reject/%s", d.Outcome, d.ReasonCode, ReasonHFRZScore)
			}
			continue
		}
		if d.Outcome != fitsmodel.Accept {
			t.Errorf("frame %d: got outcome=%s, want Accept", i+1, d.Outcome)
		}
	}
}

func TestGrade_HFRMADFallback(t *testing.T) {
	hfr := []float64{2.5, 2.5, 2.5, 2.5, 2.5, 2.5, 2.5, 10.0}
	frames := frameSeq(8)
	for i, f := range frames {
		f.AvgHFR = hfr[i]
		f.StarCount = 500
	}

	cfg := fitsmodel.DefaultGradingConfig()
	cfg.EnableClouds = false

	decisions, err := Grade(context.Background(), slog.Default(), frames, cfg, nil)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}

	last := decisions[7]
	if last.Outcome != fitsmodel.Reject || last.ReasonCode != ReasonHFRMAD {
		t.Errorf("frame 8: got outcome=%s reason=%s, want Reject/%s", last.Outcome, last.ReasonCode, ReasonHFRMAD)
	}
	for i := 0; i < 7; i++ {
		if decisions[i].Outcome != fitsmodel.Accept {
			t.Errorf("frame %d: got outcome=%s, want Accept", i+1, decisions[i].Outcome)
		}
	}
}

func TestGrade_CloudOnsetHFR(t *testing.T) {
	hfr := []float64{2.5, 2.4, 2.6, 2.5, 2.5, 3.3, 3.5}
	frames := frameSeq(7)
	for i, f := range frames {
		f.AvgHFR = hfr[i]
		f.StarCount = 500
	}

	cfg := fitsmodel.DefaultGradingConfig()
	cfg.CloudThreshold = 0.2
	cfg.CloudBaselineCount = 5

	decisions, err := Grade(context.Background(), slog.Default(), frames, cfg, nil)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}

	for i := 0; i < 5; i++ {
		if decisions[i].Outcome != fitsmodel.Accept {
			t.Errorf("frame %d: got outcome=%s, want Accept", i+1, decisions[i].Outcome)
		}
	}
	for i := 5; i < 7; i++ {
		if decisions[i].Outcome != fitsmodel.Reject || decisions[i].ReasonCode != ReasonCloudHFR {
			t.Errorf("frame %d: got outcome=%s reason=%s, want Reject/%s", i+1, decisions[i].Outcome, decisions[i].ReasonCode, ReasonCloudHFR)
		}
	}
}

func TestGrade_CloudOnsetStarCount(t *testing.T) {
	starCounts := []int{500, 520, 490, 510, 500, 350, 340}
	frames := frameSeq(7)
	for i, f := range frames {
		f.AvgHFR = 2.5
		f.StarCount = starCounts[i]
	}

	cfg := fitsmodel.DefaultGradingConfig()
	cfg.CloudStarCountThreshold = 0.2
	cfg.CloudBaselineCount = 5

	decisions, err := Grade(context.Background(), slog.Default(), frames, cfg, nil)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}

	for i := 0; i < 5; i++ {
		if decisions[i].Outcome != fitsmodel.Accept {
			t.Errorf("frame %d: got outcome=%s, want Accept", i+1, decisions[i].Outcome)
		}
	}
	for i := 5; i < 7; i++ {
		if decisions[i].Outcome != fitsmodel.Reject || decisions[i].ReasonCode != ReasonCloudStars {
			t.Errorf("frame %d: got outcome=%s reason=%s, want Reject/%s", i+1, decisions[i].Outcome, decisions[i].ReasonCode, ReasonCloudStars)
		}
	}
}

func TestGrade_RegradeResetAutomatic(t *testing.T) {
	frames := frameSeq(5)
	for _, f := range frames {
		f.AvgHFR = 2.5
		f.StarCount = 500
	}

	prior := []*fitsmodel.GradingDecision{
		{FrameID: frameID(3), Outcome: fitsmodel.Reject, ReasonCode: ReasonHFRZScore, HumanReason: autoPrefix + "stale automatic rejection"},
		{FrameID: frameID(4), Outcome: fitsmodel.Reject, ReasonCode: "", HumanReason: "Manual reject"},
	}

	cfg := fitsmodel.DefaultGradingConfig()
	cfg.EnableClouds = false
	cfg.ResetMode = fitsmodel.ResetModeAutomatic

	decisions, err := Grade(context.Background(), slog.Default(), frames, cfg, prior)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}

	got3 := decisions[2]
	if got3.Outcome != fitsmodel.Accept {
		t.Errorf("frame 3: got outcome=%s, want Accept (auto decision re-evaluated on clean input)", got3.Outcome)
	}

	got4 := decisions[3]
	if got4.HumanReason != "Manual reject" || got4.Outcome != fitsmodel.Reject {
		t.Errorf("frame 4: got outcome=%s reason=%q, want manual rejection preserved verbatim", got4.Outcome, got4.HumanReason)
	}
}

func TestGrade_InsufficientDataSkipsDistribution(t *testing.T) {
	frames := frameSeq(2)
	frames[0].AvgHFR = 2.0
	frames[0].StarCount = 500
	frames[1].AvgHFR = 100.0
	frames[1].StarCount = 500

	cfg := fitsmodel.DefaultGradingConfig()
	cfg.EnableClouds = false

	decisions, err := Grade(context.Background(), slog.Default(), frames, cfg, nil)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	for i, d := range decisions {
		if d.Outcome != fitsmodel.Accept {
			t.Errorf("frame %d: got outcome=%s, want Accept (group below distribution floor)", i+1, d.Outcome)
		}
	}
}
