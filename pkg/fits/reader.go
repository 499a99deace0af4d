// Package fits decodes FITS primary-HDU image data into a fitsmodel.Frame.
//
// Adapted from the HocusFocus-derived FITS reader this project started
// from: the header-card scanning loop and BZERO/BSCALE physical-value
// normalization are kept, but the accepted format is narrowed to the
// one this project's pipeline actually consumes (BITPIX=16, NAXIS=2),
// and header order is preserved instead of collapsed into a map.
package fits

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/karolbe/fitsgrade/internal/obsmetrics"
	"github.com/karolbe/fitsgrade/pkg/fitsmodel"
)

const (
	headerCardSize   = 80
	headerBlockCards = 36
)

// Read opens path and decodes its primary HDU into a Frame, retrying
// transient open failures (a file still being flushed by an acquisition
// tool commonly surfaces as a short-lived "file busy"/not-found error).
func Read(ctx context.Context, path string) (*fitsmodel.Frame, error) {
	started := time.Now()
	frame, err := readFile(ctx, path)
	obsmetrics.FrameDecodeLatency.WithLabelValues().Observe(time.Since(started).Seconds())
	if err != nil {
		obsmetrics.FramesProcessedTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	obsmetrics.FramesProcessedTotal.WithLabelValues("ok").Inc()
	return frame, nil
}

func readFile(ctx context.Context, path string) (*fitsmodel.Frame, error) {
	var f *os.File
	openErr := backoff.Retry(func() error {
		var err error
		f, err = os.Open(path)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx))
	if openErr != nil {
		return nil, fmt.Errorf("opening FITS file %q: %w", path, openErr)
	}
	defer f.Close()
	return decode(f, false)
}

// ReadHeaderOnly decodes only the primary HDU's header cards, skipping
// the pixel payload entirely.
func ReadHeaderOnly(path string) (*fitsmodel.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file %q: %w", path, err)
	}
	defer f.Close()
	return decode(f, true)
}

// Decode reads a FITS primary HDU from an in-memory byte slice.
func Decode(data []byte) (*fitsmodel.Frame, error) {
	return decode(bytes.NewReader(data), false)
}

func decode(r io.Reader, headerOnly bool) (*fitsmodel.Frame, error) {
	var bitpix, naxis, width, height int
	bzero := 0.0
	bscale := 1.0
	headerDone := false
	var headers []fitsmodel.HeaderCard
	seen := make(map[string]bool)

	cardBuf := make([]byte, headerCardSize)
	cardIndex := 0

	for !headerDone {
		for i := 0; i < headerBlockCards; i++ {
			if _, err := io.ReadFull(r, cardBuf); err != nil {
				return nil, fitsmodel.NewError(fitsmodel.ReasonTruncated, "reading FITS header block", err)
			}
			card := string(cardBuf)
			keyword := strings.TrimSpace(card[:8])

			if cardIndex == 0 && (keyword != "SIMPLE" || !strings.Contains(card[8:], "T")) {
				return nil, fitsmodel.NewError(fitsmodel.ReasonInvalidMagic, "first header card is not a valid SIMPLE=T primary HDU marker", nil)
			}
			cardIndex++

			if keyword == "END" {
				headerDone = true
				remaining := headerBlockCards - 1 - i
				if remaining > 0 {
					skipBuf := make([]byte, remaining*headerCardSize)
					if _, err := io.ReadFull(r, skipBuf); err != nil {
						return nil, fitsmodel.NewError(fitsmodel.ReasonTruncated, "skipping trailing header block", err)
					}
				}
				break
			}

			if len(card) > 10 && card[8] == '=' && card[9] == ' ' {
				rawValue := strings.TrimSpace(strings.SplitN(card[10:], "/", 2)[0])
				parsedValue := parseValue(rawValue)

				if keyword != "" && parsedValue != "" && !seen[keyword] {
					headers = append(headers, fitsmodel.HeaderCard{Key: strings.ToUpper(keyword), Value: parsedValue})
					seen[keyword] = true
				}

				var err error
				switch keyword {
				case "BITPIX":
					bitpix, err = strconv.Atoi(rawValue)
				case "NAXIS":
					naxis, err = strconv.Atoi(rawValue)
				case "NAXIS1":
					width, err = strconv.Atoi(rawValue)
				case "NAXIS2":
					height, err = strconv.Atoi(rawValue)
				case "BZERO":
					bzero, err = strconv.ParseFloat(rawValue, 64)
				case "BSCALE":
					bscale, err = strconv.ParseFloat(rawValue, 64)
				}
				if err != nil {
					return nil, fitsmodel.NewError(fitsmodel.ReasonHeaderParse, fmt.Sprintf("parsing %s value %q", keyword, rawValue), err)
				}
			}
		}
	}

	if naxis != 2 || width <= 0 || height <= 0 {
		return nil, fitsmodel.NewError(fitsmodel.ReasonHeaderParse,
			fmt.Sprintf("invalid primary HDU: NAXIS=%d, NAXIS1=%d, NAXIS2=%d", naxis, width, height), nil)
	}
	if bitpix != 16 {
		return nil, fitsmodel.NewError(fitsmodel.ReasonUnsupportedBitpix,
			fmt.Sprintf("BITPIX=%d is not supported, only 16-bit integer data is", bitpix), nil)
	}

	frame := &fitsmodel.Frame{Width: width, Height: height, Headers: headers}
	applyConvenienceFields(frame)

	if headerOnly {
		return frame, nil
	}

	numPixels := width * height
	rawBytes := make([]byte, numPixels*2)
	if _, err := io.ReadFull(r, rawBytes); err != nil {
		return nil, fitsmodel.NewError(fitsmodel.ReasonTruncated, "reading 16-bit pixel data", err)
	}

	pixels := make([]uint16, numPixels)
	for i := 0; i < numPixels; i++ {
		signedVal := int16(binary.BigEndian.Uint16(rawBytes[i*2:]))
		physicalVal := float64(signedVal)*bscale + bzero
		pixels[i] = uint16(clamp(physicalVal, 0, 65535))
	}
	frame.Pixels = pixels

	return frame, nil
}

func applyConvenienceFields(f *fitsmodel.Frame) {
	if v, ok := f.Lookup("OBJECT"); ok {
		f.Target = v
	}
	if v, ok := f.Lookup("FILTER"); ok {
		f.Filter = v
	}
	if v, ok := f.Lookup("DATE-OBS"); ok {
		f.ExpStart = v
	}
	if v, ok := f.Lookup("CCD-TEMP"); ok {
		if t, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			f.CCDTemp = t
		}
	}
}

// ExposureSeconds returns EXPTIME, falling back to EXPOSURE, matching
// the two keyword spellings different acquisition tools emit.
func ExposureSeconds(f *fitsmodel.Frame) (float64, bool) {
	if v, ok := f.Lookup("EXPTIME"); ok {
		if d, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return d, true
		}
	}
	if v, ok := f.Lookup("EXPOSURE"); ok {
		if d, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return d, true
		}
	}
	return 0, false
}

// ObservedAt parses DATE-OBS as RFC3339; acquisition tools that emit a
// different timestamp format are reported as not-ok rather than erroring.
func ObservedAt(f *fitsmodel.Frame) (time.Time, bool) {
	v, ok := f.Lookup("DATE-OBS")
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func parseValue(raw string) string {
	if raw == "" {
		return ""
	}
	if raw == "T" {
		return "True"
	}
	if raw == "F" {
		return "False"
	}
	if strings.HasPrefix(raw, "'") {
		if end := strings.LastIndex(raw, "'"); end > 0 {
			return strings.TrimRight(raw[1:end], " ")
		}
		return strings.TrimLeft(strings.TrimRight(raw, " "), "'")
	}
	return raw
}
