package pipeline

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidThreshold is returned for NaN or infinite thresholds, negative
// thresholds, and normalized thresholds above 1.
var ErrInvalidThreshold = errors.New("invalid threshold")

// Settings holds the distance cutoff of one stage.
//
// A normalized threshold is a fraction of the algorithm's bit resolution in
// [0, 1]; an absolute threshold is a bit count.
type Settings struct {
	Threshold  float64 `json:"threshold"`
	Normalized bool    `json:"normalized"`
}

// Normalized returns settings with a threshold relative to the bit resolution.
func Normalized(fraction float64) Settings {
	return Settings{Threshold: fraction, Normalized: true}
}

// Absolute returns settings with a threshold counted in bits.
func Absolute(bits float64) Settings {
	return Settings{Threshold: bits}
}

// Validate checks the threshold range.
func (s Settings) Validate() error {
	switch {
	case math.IsNaN(s.Threshold) || math.IsInf(s.Threshold, 0):
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, s.Threshold)
	case s.Threshold < 0:
		return fmt.Errorf("%w: %v is negative", ErrInvalidThreshold, s.Threshold)
	case s.Normalized && s.Threshold > 1:
		return fmt.Errorf("%w: normalized %v exceeds 1", ErrInvalidThreshold, s.Threshold)
	}
	return nil
}

// Resolve converts the settings into an absolute cutoff for hashes of the
// given bit resolution.
//
// Normalized thresholds round half up (0.5 bits rounds to 1); absolute
// thresholds are truncated. The result is clamped to [0, bits].
func (s Settings) Resolve(bits int) int {
	if bits <= 0 || math.IsNaN(s.Threshold) {
		return 0
	}

	var cutoff float64
	if s.Normalized {
		cutoff = math.Floor(s.Threshold*float64(bits) + 0.5)
	} else {
		cutoff = math.Trunc(s.Threshold)
	}

	switch {
	case cutoff < 0:
		return 0
	case cutoff > float64(bits):
		return bits
	}
	return int(cutoff)
}

func (s Settings) String() string {
	if s.Normalized {
		return fmt.Sprintf("%g (normalized)", s.Threshold)
	}
	return fmt.Sprintf("%g bits", s.Threshold)
}
