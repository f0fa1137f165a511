package facematch

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFaceDetected is returned when an image contains no detectable face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrInvalidFace marks a detection that cannot be used for matching.
	ErrInvalidFace = errors.New("invalid face")
	// ErrDimensionMismatch is the sentinel matched by DimensionMismatchError.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// DimensionMismatchError reports an embedding whose length differs from the
// gallery dimension. It usually means the embedding model changed.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is lets errors.Is(err, ErrDimensionMismatch) match.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CheckDim returns a DimensionMismatchError when len(vec) != dim.
func CheckDim(vec []float32, dim int) error {
	if len(vec) != dim {
		return &DimensionMismatchError{Expected: dim, Actual: len(vec)}
	}
	return nil
}
