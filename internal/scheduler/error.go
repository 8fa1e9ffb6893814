package scheduler

import "errors"

var (
	// ErrClosed is an error that occurs when a job is submitted to a closed
	// scheduler.
	ErrClosed = errors.New("scheduler closed")

	// ErrWorkerExited is an error that occurs when a worker hangs up right
	// after its handshake.
	ErrWorkerExited = errors.New("worker exited after start")

	// ErrNotQueued is an error that occurs when a job is submitted that is
	// not waiting to run, such as a composite job or a resubmitted one.
	ErrNotQueued = errors.New("job is not queued")
)
