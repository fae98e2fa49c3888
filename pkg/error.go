package pkg

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedContainer     = errors.New("malformed container")
	ErrUnsupportedScheme      = errors.New("unsupported protection scheme")
	ErrMissingProtectionInfo  = errors.New("missing protection info")
	ErrKeyNotAvailable        = errors.New("key not available")
	ErrDecryptionSizeMismatch = errors.New("decryption size mismatch")
	ErrInvalidKey             = errors.New("invalid key")
	ErrOverlappingSamples     = fmt.Errorf("%w: overlapping sample data", ErrMalformedContainer)
)

// TrackError reports the track, and the sample when known, at which
// resolution or decryption stopped. Sample is -1 when the failure happened
// before any sample of the track was processed.
type TrackError struct {
	TrackID uint32
	Sample  int
	Err     error
}

func NewTrackError(trackID uint32, sample int, err error) *TrackError {
	return &TrackError{TrackID: trackID, Sample: sample, Err: err}
}

func (e *TrackError) Error() string {
	if e.Sample < 0 {
		return fmt.Sprintf("track %d: %v", e.TrackID, e.Err)
	}
	return fmt.Sprintf("track %d sample %d: %v", e.TrackID, e.Sample, e.Err)
}

func (e *TrackError) Unwrap() error {
	return e.Err
}

// Malformed wraps a structural problem so that errors.Is(err, ErrMalformedContainer) holds.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedContainer, fmt.Sprintf(format, args...))
}
