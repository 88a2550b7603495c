package lattice

import (
	"errors"
	"fmt"
)

// Error kinds, verbatim from spec.md §7.
var (
	// ErrCorruptHeader means the 8-byte node header or 24-byte file header
	// failed validation on decode.
	ErrCorruptHeader = errors.New("lattice: corrupt header")
	// ErrCorruptRef means a Ref could not be translated to a live region by
	// any known slab. This is the only recoverable corruption signal.
	ErrCorruptRef = errors.New("lattice: corrupt ref")
	// ErrFileFormatMismatch means the on-disk magic or format version, or a
	// sidecar lock file's size or magic, does not match what this build
	// understands. The lock file's generation counter is not checked.
	ErrFileFormatMismatch = errors.New("lattice: file format mismatch")
	// ErrStorageFull means the file could not grow to satisfy an allocation.
	ErrStorageFull = errors.New("lattice: storage full")
	// ErrWriteConflict means a timed attempt to acquire the writer mutex
	// failed.
	ErrWriteConflict = errors.New("lattice: write conflict")
	// ErrSnapshotExpired means a reader tried to translate a Ref after its
	// snapshot slot was reclaimed. This is a programming error.
	ErrSnapshotExpired = errors.New("lattice: snapshot expired")
	// ErrTooManyReaders means the lock file's reader ring is exhausted.
	ErrTooManyReaders = errors.New("lattice: too many readers")
	// ErrIndexOutOfRange is returned by positional Array/B+-tree operations.
	ErrIndexOutOfRange = errors.New("lattice: index out of range")
	// ErrReadOnly describes a write attempted against a read-only Snapshot.
	// No operation in this package returns it: Snapshot exposes no write
	// operations.
	ErrReadOnly = errors.New("lattice: write attempted on a read-only transaction")
	// ErrInvalidRange is returned when an operation's arguments describe an
	// invalid range or a conflicting name (e.g. a duplicate table/column).
	ErrInvalidRange = errors.New("lattice: invalid range")
)

// IoError wraps an underlying file-system error, per spec.md §7's
// IoError(cause) kind.
type IoError struct {
	Op    string
	Cause error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("lattice: io error during %s: %s", e.Op, e.Cause)
}

func (e *IoError) Unwrap() error { return e.Cause }

func wrapIo(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IoError{Op: op, Cause: err}
}
