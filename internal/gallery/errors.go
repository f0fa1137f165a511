package gallery

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageCorrupt is the sentinel matched by StorageCorruptError.
	ErrStorageCorrupt = errors.New("gallery storage corrupt")
	// ErrStoreNotFound is returned by Load when a directory holds no gallery.
	ErrStoreNotFound = errors.New("gallery not found")
)

// StorageCorruptError describes persisted state that cannot be trusted.
// Vectors and Metadata are the counts found on disk when they disagree.
type StorageCorruptError struct {
	Path     string
	Reason   string
	Vectors  int
	Metadata int
}

func (e *StorageCorruptError) Error() string {
	if e.Vectors != e.Metadata {
		return fmt.Sprintf("gallery storage corrupt at %s: %s (vectors=%d, metadata=%d)", e.Path, e.Reason, e.Vectors, e.Metadata)
	}
	return fmt.Sprintf("gallery storage corrupt at %s: %s", e.Path, e.Reason)
}

// Is lets errors.Is(err, ErrStorageCorrupt) match.
func (e *StorageCorruptError) Is(target error) bool {
	return target == ErrStorageCorrupt
}

func corrupt(path, format string, args ...any) *StorageCorruptError {
	return &StorageCorruptError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
