package store

import (
	"errors"
	"fmt"
)

// Common errors returned by the store.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrIO              = errors.New("storage i/o failure")

	ErrBucketNotFound = fmt.Errorf("bucket %w", ErrNotFound)
	ErrObjectNotFound = fmt.Errorf("object %w", ErrNotFound)
)

// ioError wraps a filesystem error so that callers can match both ErrIO and
// the underlying cause.
func ioError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}
