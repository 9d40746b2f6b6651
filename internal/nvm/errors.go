package nvm

import "errors"

var (
	// ErrOutOfSpace is returned when an allocation or append cannot be
	// satisfied. Recoverable: the caller may free, flush, or fail the write.
	ErrOutOfSpace = errors.New("nvm: out of space")

	// ErrIntegrityViolation indicates an out-of-bounds or overlapping range
	// during recovery, or a cursor repositioned past a handle's size. Not
	// recoverable: the recovery input or the caller is broken.
	ErrIntegrityViolation = errors.New("nvm: integrity violation")

	// ErrInitialization indicates the backing region could not be created
	// or opened. The engine cannot start without its pool.
	ErrInitialization = errors.New("nvm: pool initialization failed")

	// ErrClosed is returned by operations on a closed pool.
	ErrClosed = errors.New("nvm: pool is closed")
)

// IsOutOfSpace reports whether err is an out-of-space condition.
func IsOutOfSpace(err error) bool {
	return errors.Is(err, ErrOutOfSpace)
}

// IsIntegrityViolation reports whether err is an integrity violation.
func IsIntegrityViolation(err error) bool {
	return errors.Is(err, ErrIntegrityViolation)
}

// IsInitialization reports whether err is an initialization failure.
func IsInitialization(err error) bool {
	return errors.Is(err, ErrInitialization)
}
