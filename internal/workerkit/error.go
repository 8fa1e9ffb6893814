package workerkit

import "errors"

var (
	// ErrConnectionClosed is an error that occurs when the application end
	// of the connection went away.
	ErrConnectionClosed = errors.New("connection to application closed")

	// ErrNotStarted is an error that occurs when a start request is
	// malformed.
	ErrNotStarted = errors.New("malformed start request")

	// ErrHostInfo is an error that occurs when the application could not
	// resolve a host.
	ErrHostInfo = errors.New("host lookup failed")
)
