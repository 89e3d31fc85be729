package ring

import "errors"

// ErrInvalidArgument is returned when registering a nil node or a node
// without an ID.
var ErrInvalidArgument = errors.New("invalid argument")
