// Package obsmetrics exposes the Prometheus counters and histograms
// this core's pipeline stages update, following
// lox-wandiweather/internal/metrics's direct promauto.NewCounterVec/
// NewHistogramVec usage rather than a manual MustRegister dance.
package obsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsgrade_frames_processed_total",
			Help: "Total FITS frames decoded and run through the pipeline",
		},
		[]string{"status"},
	)

	FrameDecodeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitsgrade_frame_decode_latency_seconds",
			Help:    "FITS decode latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{},
	)

	StarsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsgrade_stars_detected_total",
			Help: "Total stars surviving the detector's filter stage",
		},
		[]string{"variant"},
	)

	DetectionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitsgrade_detection_latency_seconds",
			Help:    "Star detector pipeline latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"variant"},
	)

	PSFFitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsgrade_psf_fits_total",
			Help: "Total PSF fit attempts by model and convergence outcome",
		},
		[]string{"model", "converged"},
	)

	GradingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitsgrade_grading_decisions_total",
			Help: "Total grading decisions by outcome and reason code",
		},
		[]string{"outcome", "reason_code"},
	)
)
