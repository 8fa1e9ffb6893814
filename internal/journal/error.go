package journal

import "errors"

var (
	// ErrRecordNotFound is an error that occurs when a job id has no record.
	ErrRecordNotFound = errors.New("record not found")

	// ErrNoBucket is an error that occurs when the database lacks the jobs
	// bucket, usually because it was not created by this package.
	ErrNoBucket = errors.New("jobs bucket missing")
)
