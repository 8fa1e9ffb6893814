package schema

import (
	"errors"
	"fmt"
)

// ErrorCode is the integer error code a terminal job carries. The values
// are stable on the wire and must only ever be appended to.
type ErrorCode int

const (
	CodeNone ErrorCode = iota
	CodeCannotLaunch
	CodeUnsupportedAction
	CodeUnknownScheme
	CodeMalformedURL
	CodeConnectionBroken
	CodeUserCanceled
	CodePrivilegeDenied
	CodePrivilegeCanceled
	CodeDoesNotExist
	CodeAlreadyExists
	CodeAccessDenied
	CodeCannotResume
	CodeInternal
	CodeUnknownHost
	CodeCouldNotRead
	CodeCouldNotWrite
	CodeWorkerDefined
)

var (
	// ErrCannotLaunch is an error that occurs when a worker process could
	// not be started or did not greet in time.
	ErrCannotLaunch = errors.New("cannot launch worker")

	// ErrUnsupportedAction is an error that occurs when a scheme does not
	// support the requested operation.
	ErrUnsupportedAction = errors.New("unsupported action")

	// ErrUnknownScheme is an error that occurs when no scheme metadata
	// exists for the requested scheme.
	ErrUnknownScheme = errors.New("unknown scheme")

	// ErrMalformedURL is an error that occurs when a job target cannot be
	// parsed.
	ErrMalformedURL = errors.New("malformed url")

	// ErrConnectionBroken is an error that occurs when the connection to a
	// worker faults or its stream cannot be decoded.
	ErrConnectionBroken = errors.New("connection to worker broken")

	// ErrUserCanceled is an error that occurs when a job was killed.
	ErrUserCanceled = errors.New("canceled")

	// ErrPrivilegeDenied is an error that occurs when a privileged operation
	// is not allowed.
	ErrPrivilegeDenied = errors.New("privilege denied")

	// ErrPrivilegeCanceled is an error that occurs when the user canceled a
	// privilege confirmation.
	ErrPrivilegeCanceled = errors.New("privilege confirmation canceled")

	ErrDoesNotExist  = errors.New("does not exist")
	ErrAlreadyExists = errors.New("already exists")
	ErrAccessDenied  = errors.New("access denied")
	ErrCannotResume  = errors.New("cannot resume")
	ErrInternal      = errors.New("internal error")
	ErrUnknownHost   = errors.New("unknown host")
	ErrCouldNotRead  = errors.New("could not read")
	ErrCouldNotWrite = errors.New("could not write")

	// ErrWorkerDefined is an error that occurs when a worker reports an
	// error code outside of the known range.
	ErrWorkerDefined = errors.New("worker error")
)

var codeSentinels = map[ErrorCode]error{
	CodeCannotLaunch:      ErrCannotLaunch,
	CodeUnsupportedAction: ErrUnsupportedAction,
	CodeUnknownScheme:     ErrUnknownScheme,
	CodeMalformedURL:      ErrMalformedURL,
	CodeConnectionBroken:  ErrConnectionBroken,
	CodeUserCanceled:      ErrUserCanceled,
	CodePrivilegeDenied:   ErrPrivilegeDenied,
	CodePrivilegeCanceled: ErrPrivilegeCanceled,
	CodeDoesNotExist:      ErrDoesNotExist,
	CodeAlreadyExists:     ErrAlreadyExists,
	CodeAccessDenied:      ErrAccessDenied,
	CodeCannotResume:      ErrCannotResume,
	CodeInternal:          ErrInternal,
	CodeUnknownHost:       ErrUnknownHost,
	CodeCouldNotRead:      ErrCouldNotRead,
	CodeCouldNotWrite:     ErrCouldNotWrite,
	CodeWorkerDefined:     ErrWorkerDefined,
}

// Sentinel returns the sentinel error for a code, nil for [CodeNone].
func (c ErrorCode) Sentinel() error {
	if c == CodeNone {
		return nil
	}

	if err, ok := codeSentinels[c]; ok {
		return err
	}

	return ErrWorkerDefined
}

func (c ErrorCode) String() string {
	if c == CodeNone {
		return "none"
	}

	return c.Sentinel().Error()
}

// JobError is the error a job terminates with.
type JobError struct {
	Code ErrorCode
	Text string
}

// NewJobError returns a [JobError] for a code and message.
func NewJobError(code ErrorCode, text string) *JobError {
	return &JobError{Code: code, Text: text}
}

func (e *JobError) Error() string {
	if e.Text == "" {
		return e.Code.String()
	}

	return fmt.Sprintf("%s: %s", e.Code.String(), e.Text)
}

// Is matches the sentinel error of the code.
func (e *JobError) Is(target error) bool {
	return e.Code.Sentinel() == target
}

// AsJobError converts any error into a [JobError]. Errors wrapping a known
// sentinel keep its code, everything else becomes [CodeInternal].
func AsJobError(err error) *JobError {
	if err == nil {
		return nil
	}

	var je *JobError
	if errors.As(err, &je) {
		return je
	}

	for code := CodeCannotLaunch; code <= CodeWorkerDefined; code++ {
		if errors.Is(err, codeSentinels[code]) {
			return NewJobError(code, err.Error())
		}
	}

	return NewJobError(CodeInternal, err.Error())
}

// CodeOf returns the error code carried by err, [CodeNone] for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}

	return AsJobError(err).Code
}
