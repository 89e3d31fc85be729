package meta

import "errors"

// Metadata error types.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("metadata key not found")
)
