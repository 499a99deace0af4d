// Package config provides the plain JSON-tagged configuration surface
// for this core, following the teacher's internal/config style
// (encoding/json only, no config library) rather than a CLI/config
// framework like kong: this is a library config surface, not a
// standalone CLI binary.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
)

const defaultConfigPath = "~/.config/fitsgrade/config.json"

// Config holds the engine's user-editable settings.
type Config struct {
	Logging Logging                 `json:"logging"`
	Detect  DetectDefaults          `json:"detect"`
	Grading fitsmodel.GradingConfig `json:"grading"`
}

// Logging controls log verbosity/format.
type Logging struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// DetectDefaults seeds pkg/detect.Params for callers that don't build
// their own.
type DetectDefaults struct {
	Variant     string  `json:"variant"`     // "classic" or "enhanced"
	Sensitivity string  `json:"sensitivity"` // "normal", "high", "highest"
	PixelScale  float64 `json:"pixel_scale"`
}

// Load reads configuration from path, or FITSGRADE_CONFIG if path is
// empty, falling back to sensible defaults if neither is set or the
// file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv("FITSGRADE_CONFIG")
	}
	if path == "" {
		path = defaultConfigPath
	}

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Logging: Logging{Level: "info", Format: "text"},
		Detect: DetectDefaults{
			Variant:     "classic",
			Sensitivity: "normal",
			PixelScale:  1.0,
		},
		Grading: fitsmodel.DefaultGradingConfig(),
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
