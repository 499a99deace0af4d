package imagestat

// Midtone computes the m parameter for an MTF stretch targeting
// targetBackground (a fraction of full scale, e.g. 0.25) given the
// frame's statistics, following the N.I.N.A.-derived auto-stretch
// convention this project's predecessor ported from: shadows clipping
// is expressed in MAD units below the median, and the midtone is
// solved so that the shadow-clipped median maps to targetBackground.
func Midtone(stats Statistics, targetBackground, shadowClipMADs float64) StretchParams {
	normMedian := normalize(stats.Median)
	normMAD := stats.MAD / 65535.0

	shadow := clamp(normMedian-shadowClipMADs*normMAD, 0, 1)
	highlight := 1.0

	span := normMedian - shadow
	m := targetBackground
	if span > 0 {
		m = mtf(targetBackground, span)
	}

	return StretchParams{Midtone: clamp(m, 1e-6, 1-1e-6), ShadowClip: shadow, HighlightClip: highlight}
}

// Apply stretches one normalized pixel value in [0,1] through the
// midtones transfer function f(x;m) = (m-1)x / ((2m-1)x - m), the
// single closed-form MTF bijection on [0,1] this pipeline standardizes
// on (in place of the predecessor's two-segment piecewise form).
func Apply(x float64, p StretchParams) float64 {
	shadow := p.ShadowClip
	highlight := p.HighlightClip
	span := highlight - shadow
	v := 0.0
	if span > 0 {
		v = clamp((x-shadow)/span, 0, 1)
	}
	return mtf(p.Midtone, v)
}

// ApplyToByte stretches a raw 16-bit pixel value and rounds it to a
// byte in [0,255] using banker's rounding, for preview/output paths
// that need an 8-bit image.
func ApplyToByte(raw uint16, p StretchParams) uint8 {
	x := normalize(float64(raw))
	stretched := Apply(x, p)
	return uint8(RoundEven(clamp(stretched, 0, 1) * 255.0))
}

func mtf(m, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	if m <= 0 {
		return 1
	}
	if m >= 1 {
		return 0
	}
	denom := (2*m-1)*x - m
	if denom == 0 {
		return 0
	}
	return (m - 1) * x / denom
}

func normalize(v float64) float64 { return clamp(v/65535.0, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
