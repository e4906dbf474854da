package imgmatch

import (
	"errors"
	"fmt"

	"github.com/hupe1980/imgmatch/algorithm"
	"github.com/hupe1980/imgmatch/imghash"
	"github.com/hupe1980/imgmatch/index"
	"github.com/hupe1980/imgmatch/internal/cascade"
	"github.com/hupe1980/imgmatch/persistence"
	"github.com/hupe1980/imgmatch/pipeline"
)

var (
	// ErrInvalidState is returned when a match is requested on an empty pipeline.
	ErrInvalidState = errors.New("pipeline has no algorithms")

	// ErrIncompatibleHash is returned when hashes of different algorithms or
	// bit resolutions are compared or stored together.
	ErrIncompatibleHash = imghash.ErrIncompatible

	// ErrInvalidThreshold is returned for NaN, infinite, negative or (when
	// normalized) greater than one thresholds.
	ErrInvalidThreshold = pipeline.ErrInvalidThreshold

	// ErrUnknownPreset is returned by ParseSetting for unknown names.
	ErrUnknownPreset = errors.New("unknown preset")

	// ErrInvalidID is returned for empty item IDs.
	ErrInvalidID = errors.New("invalid item id")

	// ErrUnknownAlgorithm is returned when a hash references an algorithm the
	// matcher has no index for.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")

	// ErrCorruptSnapshot is returned when a snapshot fails integrity checks.
	ErrCorruptSnapshot = persistence.ErrCorrupt

	// ErrUnsupportedAlgorithm is returned when a snapshot references an
	// algorithm spec that cannot be constructed.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")

	// ErrNoSnapshot is returned when loading from a store without snapshots.
	ErrNoSnapshot = persistence.ErrNoSnapshot

	// ErrClosed is returned when a closed matcher is used.
	ErrClosed = errors.New("matcher closed")

	// ErrMemoryLimit is returned when a snapshot needs more memory than
	// WithMemoryLimit allows.
	ErrMemoryLimit = errors.New("memory limit exceeded")
)

// StageError reports a failure while hashing or querying one pipeline stage.
//
// The original underlying error can be accessed via errors.Unwrap.
type StageError struct {
	Stage     int
	Algorithm string
	cause     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Stage, e.Algorithm, e.cause)
}

func (e *StageError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var se *cascade.Error
	if errors.As(err, &se) {
		return &StageError{Stage: se.Stage, Algorithm: se.Name, cause: translateError(se.Err)}
	}

	if errors.Is(err, index.ErrEmptyID) && !errors.Is(err, ErrInvalidID) {
		return fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	if (errors.Is(err, algorithm.ErrUnknownKind) || errors.Is(err, algorithm.ErrInvalidSize)) &&
		!errors.Is(err, ErrUnsupportedAlgorithm) {
		return fmt.Errorf("%w: %w", ErrUnsupportedAlgorithm, err)
	}
	if errors.Is(err, index.ErrClosed) && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}
