package segmap

import (
	"errors"
	"fmt"

	"github.com/hupe1980/segmap/internal/engine"
)

var (
	// ErrAlreadyCreated is returned by Create when segments already exist.
	ErrAlreadyCreated = errors.New("already created")

	// ErrAlreadyInitialized is returned by LoadExisting when segments already exist.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrClosed is returned when an operation is attempted on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrReadOnly is returned (or panicked with) when a write is attempted
	// on a read-only store.
	ErrReadOnly = errors.New("store is read-only")

	// ErrNotCreated is returned when an operation needs mapped segments but
	// the store was neither created nor loaded.
	ErrNotCreated = errors.New("store not created")

	// ErrCorruptBackup is returned when a backup blob is malformed.
	ErrCorruptBackup = errors.New("corrupt backup")
)

// Growth errors surfaced from the mapping engine.
var (
	ErrNegativeCapacity = engine.ErrNegativeCapacity
	ErrNoSegments       = engine.ErrNoSegments
	ErrMapFailed        = engine.ErrMapFailed
	ErrTooManySegments  = engine.ErrTooManySegments
	ErrShortFile        = engine.ErrShortFile
)

// MapError describes a segment that could not be mapped, including the
// segment index, the number of segments the growth needed and the file
// offset. Match it with errors.As.
type MapError = engine.MapError

// opError wraps err with the operation and store path.
func opError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("segmap: %s %s: %w", op, path, err)
}
