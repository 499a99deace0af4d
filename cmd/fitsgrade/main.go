// Command fitsgrade is a thin demonstration entrypoint: load a FITS
// file, run detection, fit PSFs in parallel, aggregate frame metrics,
// and print a report. It owns no argument parsing beyond a single
// input path, no database writes, and no file-tree management — those
// remain the job of the full imaging-project driver this core is a
// library for.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/karolbe/fitsgrade/internal/obslog"
	"github.com/karolbe/fitsgrade/pkg/detect"
	"github.com/karolbe/fitsgrade/pkg/fits"
	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
	"github.com/karolbe/fitsgrade/pkg/imagestat"
	"github.com/karolbe/fitsgrade/pkg/mat"
	"github.com/karolbe/fitsgrade/pkg/metrics"
	"github.com/karolbe/fitsgrade/pkg/psf"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: fitsgrade <input.fits>")
	}
	inputPath := args[0]
	logger := obslog.New("info", "text")

	fmt.Printf("Loading: %s\n", inputPath)
	ctx := context.Background()

	frame, err := fits.Read(ctx, inputPath)
	if err != nil {
		return fmt.Errorf("reading FITS: %w", err)
	}
	fmt.Printf("FITS loaded: %dx%d\n", frame.Width, frame.Height)

	stats := imagestat.Compute(frame.Pixels, frame.Width, frame.Height)
	fmt.Printf("Statistics: min=%d max=%d mean=%.1f median=%.1f stddev=%.1f mad=%.1f\n",
		stats.Min, stats.Max, stats.Mean, stats.Median, stats.StdDev, stats.MAD)

	startTime := time.Now()
	p := detect.NewClassicParams()
	result, err := detect.Detect(ctx, logger, frame, p)
	if err != nil {
		return fmt.Errorf("detecting stars: %w", err)
	}
	elapsed := time.Since(startTime)
	stars := result.Stars

	fmt.Println()
	fmt.Printf("=== Star Detection Results (%.1fs) ===\n", elapsed.Seconds())
	fmt.Printf("  Stars detected:  %d\n", len(stars))
	fmt.Printf("  Candidates:      %d\n", result.Metrics.CandidateCount)

	src := mat.ToFloat32Mat(frame.Pixels, 16, frame.Width, frame.Height)
	defer src.Close()

	fmt.Printf("Fitting PSFs for %d stars...\n", len(stars))
	psfStart := time.Now()
	psf.FitAll(ctx, logger, src, stars, fitsmodel.PsfModelGaussian, p.PixelScale, 8)
	fmt.Printf("PSF fitting: %.1fs\n", time.Since(psfStart).Seconds())

	starsWithPSF := make([]*fitsmodel.Star, 0, len(stars))
	for _, s := range stars {
		if s.Psf != nil && s.Psf.Converged {
			starsWithPSF = append(starsWithPSF, s)
		}
	}
	fmt.Printf("  Stars with converged PSF: %d\n", len(starsWithPSF))

	if len(stars) > 0 {
		hfrValues := make([]float64, len(stars))
		for i, s := range stars {
			hfrValues[i] = s.HFR
		}
		med, mad := medianMAD(hfrValues)
		fmt.Printf("  HFR (median):    %.3f +/- %.3f px\n", med, mad)
	}

	fm := metrics.Aggregate(inputPath, frame, stars, detect.AnalyzeField)
	fmt.Println("==============================")
	fmt.Printf("Frame metrics: stars=%d avg_hfr=%.3f median_hfr=%.3f avg_fwhm_px=%.3f avg_ecc=%.3f\n",
		fm.StarCount, fm.AvgHFR, fm.MedianHFR, fm.AvgFWHMPixels, fm.AvgEccentricity)

	if fm.Field != nil {
		fmt.Println()
		fmt.Println("=== Field Analysis (3x3) ===")
		zoneOrder := []fitsmodel.ZonePosition{
			fitsmodel.ZoneTopLeft, fitsmodel.ZoneTop, fitsmodel.ZoneTopRight,
			fitsmodel.ZoneLeft, fitsmodel.ZoneCenter, fitsmodel.ZoneRight,
			fitsmodel.ZoneBottomLeft, fitsmodel.ZoneBottom, fitsmodel.ZoneBottomRight,
		}
		for i, pos := range zoneOrder {
			z := fm.Field.Zones[pos]
			fmt.Printf("  %-8s HFR=%.3f  FWHM=%.3f  n=%d\n", z.Label, z.MedianHFR, z.MedianFWHM, z.StarCount)
			if (i+1)%3 == 0 && i < 8 {
				fmt.Println("  ---")
			}
		}
		fmt.Printf("\n  Tilt:     %.1f%% (best: %s, worst: %s)\n", fm.Field.TiltPct, fm.Field.BestCorner, fm.Field.WorstCorner)
		fmt.Printf("  Off-axis: %.1f%%\n", fm.Field.OffAxisPct)
		if !fm.Field.Reliable {
			fmt.Println("  [LOW STAR COUNT - UNRELIABLE]")
		}
		fmt.Println("==============================")
	}

	return nil
}

func medianMAD(values []float64) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	var median float64
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2.0
	} else {
		median = sorted[n/2]
	}

	deviations := make([]float64, n)
	for i := range sorted {
		deviations[i] = math.Abs(sorted[i] - median)
	}
	sort.Float64s(deviations)

	var madMedian float64
	if n%2 == 0 {
		madMedian = (deviations[n/2-1] + deviations[n/2]) / 2.0
	} else {
		madMedian = deviations[n/2]
	}

	return median, 1.4826 * madMedian
}
