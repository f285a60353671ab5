package errors

import (
	"errors"
	"fmt"
)

var (
	// Image errors
	ErrNotFound        = errors.New("image not found")
	ErrBadHeader       = errors.New("invalid disk image header")
	ErrReadOnly        = errors.New("image opened read-only")
	ErrNoExt2Partition = errors.New("no native filesystem partition found")

	// Filesystem metadata errors
	ErrBadSuperblock = errors.New("invalid superblock")
	ErrBadMagic      = fmt.Errorf("%w: bad magic", ErrBadSuperblock)
	ErrInconsistent  = errors.New("filesystem counters are inconsistent")

	// Addressing errors
	ErrOutOfRange  = errors.New("value out of range")
	ErrUnallocated = errors.New("not allocated")

	// Storage errors
	ErrIOFailure = errors.New("I/O failure")
	ErrNoSpace   = errors.New("no space available")
)

// DiskError represents an error with context about the layer operation that
// raised it
type DiskError struct {
	Err       error  // The underlying error kind
	Operation string // The operation that failed
	Object    string // The object the operation was applied to (path, block, inode)
	Detail    string // Additional details about the error
}

// Error implements the error interface
func (e *DiskError) Error() string {
	if e.Object != "" && e.Detail != "" {
		return fmt.Sprintf("%s: %s [%s]: %v", e.Operation, e.Object, e.Detail, e.Err)
	} else if e.Object != "" {
		return fmt.Sprintf("%s: %s: %v", e.Operation, e.Object, e.Err)
	} else if e.Detail != "" {
		return fmt.Sprintf("%s: %v [%s]", e.Operation, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DiskError) Unwrap() error {
	return e.Err
}

// New creates a DiskError with the given details
func New(err error, operation, object, detail string) error {
	return &DiskError{
		Err:       err,
		Operation: operation,
		Object:    object,
		Detail:    detail,
	}
}

// Newf is New with a formatted detail
func Newf(err error, operation, object, format string, args ...interface{}) error {
	return New(err, operation, object, fmt.Sprintf(format, args...))
}

// IsIOError returns true if the error is a storage failure below the caller
func IsIOError(err error) bool {
	return errors.Is(err, ErrIOFailure) || errors.Is(err, ErrNotFound)
}

// IsSpaceError returns true if an allocation ran out of free bitmap bits
func IsSpaceError(err error) bool {
	return errors.Is(err, ErrNoSpace)
}

// IsInvalidData returns true if the error is a structural validation failure
func IsInvalidData(err error) bool {
	return errors.Is(err, ErrBadHeader) || errors.Is(err, ErrBadMagic) ||
		errors.Is(err, ErrBadSuperblock) || errors.Is(err, ErrInconsistent)
}

// Is and As are re-exported so callers importing this package under its
// own name do not also need the standard library package
var (
	Is = errors.Is
	As = errors.As
)
