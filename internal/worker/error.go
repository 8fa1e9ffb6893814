package worker

import "errors"

var (
	// ErrHandleBusy is an error that occurs when a handle that is leased or
	// torn down is assigned another job.
	ErrHandleBusy = errors.New("handle is not idle")

	// ErrHandleDead is an error that occurs when a job is assigned to a
	// handle whose connection already failed.
	ErrHandleDead = errors.New("worker connection is gone")

	// ErrHandleClosed is an error that occurs when a handle was torn down on
	// purpose, by idle eviction or shutdown.
	ErrHandleClosed = errors.New("handle closed")

	// ErrCanceled is an error that occurs when the leased job was killed and
	// the handle was torn down with it.
	ErrCanceled = errors.New("lease canceled")

	// ErrIncompatibleVersion is an error that occurs when a worker speaks an
	// incompatible major protocol version.
	ErrIncompatibleVersion = errors.New("incompatible protocol version")

	// ErrUnexpectedGreeting is an error that occurs when the first frame of a
	// worker is not its status greeting.
	ErrUnexpectedGreeting = errors.New("unexpected worker greeting")

	// ErrNoResolver is an error that occurs when a worker asks for host info
	// but no resolver is configured.
	ErrNoResolver = errors.New("no host resolver")
)
