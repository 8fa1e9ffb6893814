package job

import "errors"

var (
	// ErrJobTerminated is an error that occurs when a terminal job is
	// modified.
	ErrJobTerminated = errors.New("job already terminated")

	// ErrCompositeFailed is an error that occurs when a child is added to a
	// composite job that already failed.
	ErrCompositeFailed = errors.New("composite job already failed")

	// ErrAlreadyAttached is an error that occurs when a job that already has
	// a parent is added to another one.
	ErrAlreadyAttached = errors.New("job already has a parent")

	// ErrSelfParent is an error that occurs when a job is added to itself.
	ErrSelfParent = errors.New("job cannot be its own child")

	// ErrNotRunning is an error that occurs when a job that is not running is
	// suspended.
	ErrNotRunning = errors.New("job is not running")

	// ErrNotSuspended is an error that occurs when a job that is not
	// suspended is resumed.
	ErrNotSuspended = errors.New("job is not suspended")

	// ErrNotSuspendable is an error that occurs when a job without the
	// capability is suspended.
	ErrNotSuspendable = errors.New("job cannot be suspended")
)
