package imagestat

import (
	"math"
	"testing"

	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
)

func TestApply_IdentityAtMidtoneHalf(t *testing.T) {
	p := fitsmodel.StretchParams{Midtone: 0.5, ShadowClip: 0, HighlightClip: 1}
	for _, x := range []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1.0} {
		got := Apply(x, p)
		if math.Abs(got-x) > 1e-9 {
			t.Errorf("Apply(%v, midtone=0.5) = %v, want identity", x, got)
		}
	}
}

func TestMTF_BijectionEndpointsAndMidpoint(t *testing.T) {
	if got := mtf(0.3, 0); got != 0 {
		t.Errorf("mtf(m,0) = %v, want 0", got)
	}
	if got := mtf(0.3, 1); got != 1 {
		t.Errorf("mtf(m,1) = %v, want 1", got)
	}
	if got := mtf(0.5, 0.5); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("mtf(0.5, 0.5) = %v, want 0.5", got)
	}
}

func TestMTF_Monotonic(t *testing.T) {
	m := 0.35
	prev := -1.0
	for i := 0; i <= 100; i++ {
		x := float64(i) / 100.0
		v := mtf(m, x)
		if v < prev {
			t.Fatalf("mtf(%v, x) not monotonic at x=%v: %v < %v", m, x, v, prev)
		}
		prev = v
	}
}

func TestCompute_Invariants(t *testing.T) {
	pixels := []uint16{100, 200, 150, 150, 65535, 0, 300}
	stats := Compute(pixels, 7, 1)

	if !(float64(stats.Min) <= stats.Median && stats.Median <= float64(stats.Max)) {
		t.Errorf("want min <= median <= max, got min=%v median=%v max=%v", stats.Min, stats.Median, stats.Max)
	}
	if stats.StdDev < 0 {
		t.Errorf("stddev must be >= 0, got %v", stats.StdDev)
	}
	if stats.MAD < 0 {
		t.Errorf("mad must be >= 0, got %v", stats.MAD)
	}
}

func TestCompute_AllZeroFrame(t *testing.T) {
	pixels := make([]uint16, 64)
	stats := Compute(pixels, 8, 8)
	if stats.Min != 0 || stats.Max != 0 || stats.Median != 0 {
		t.Errorf("all-zero frame should report min=max=median=0, got min=%v max=%v median=%v", stats.Min, stats.Max, stats.Median)
	}
	if stats.StdDev != 0 || stats.MAD != 0 {
		t.Errorf("all-zero frame should report stddev=mad=0, got stddev=%v mad=%v", stats.StdDev, stats.MAD)
	}
}
