package cache

import "errors"

// ErrInvalidArgument is returned for zero keys and nil values.
var ErrInvalidArgument = errors.New("invalid argument")
