package registry

import "errors"

// ErrInvalidDescriptor is an error that occurs when a scheme descriptor is
// missing required keys.
var ErrInvalidDescriptor = errors.New("invalid scheme descriptor")
