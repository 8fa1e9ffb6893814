package configuration

import "errors"

// ErrInvalidValue is an error that occurs when a configuration key is present
// but does not hold a valid value.
var ErrInvalidValue = errors.New("invalid configuration value")
