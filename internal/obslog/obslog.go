// Package obslog provides the structured logger every component in
// this repository accepts as a constructor argument, built directly on
// log/slog rather than a third-party logging library (no example repo
// in this project's lineage reaches for zerolog/zap/logrus).
package obslog

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a slog.Logger at the given level (debug/info/warn/error)
// writing in the given format ("json" or "text").
func New(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFrameProcessed logs the outcome of running the full pipeline
// (detect + PSF fit + metrics) over one frame.
func LogFrameProcessed(logger *slog.Logger, frameID string, starCount int, avgHFR float64) {
	logger.Info("frame processed",
		"frame_id", frameID,
		"star_count", starCount,
		"avg_hfr", avgHFR,
	)
}

// LogGradingDecision logs one per-frame grading outcome.
func LogGradingDecision(logger *slog.Logger, frameID, outcome, reasonCode string) {
	logger.Info("grading decision",
		"frame_id", frameID,
		"outcome", outcome,
		"reason_code", reasonCode,
	)
}
