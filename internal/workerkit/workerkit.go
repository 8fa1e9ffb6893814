// Package workerkit is the worker side of the protocol. A worker program
// implements a [Backend] and hands it to [Serve] together with its end of
// the connection; the runtime greets the application, decodes start
// requests, routes replies to the running operation and reports exactly one
// result per operation.
package workerkit

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/desertwitch/workio/internal/protocol"
	"github.com/desertwitch/workio/internal/schema"
)

// Backend implements the operations of one scheme. Every method runs one
// operation and returns nil on success. Returned errors are reported to
// the application through [ErrorPayload].
type Backend interface {
	Get(ctx context.Context, s *Session) error
	Put(ctx context.Context, s *Session) error
	Stat(ctx context.Context, s *Session) error
	ListDir(ctx context.Context, s *Session) error
	Mkdir(ctx context.Context, s *Session) error
	Delete(ctx context.Context, s *Session) error
	Copy(ctx context.Context, s *Session) error
	Rename(ctx context.Context, s *Session) error
	Symlink(ctx context.Context, s *Session) error
	Chmod(ctx context.Context, s *Session) error
	Special(ctx context.Context, s *Session) error
}

// Unsupported rejects every operation. Backends embed it and override what
// they implement.
type Unsupported struct{}

func unsupported(op string) error {
	return schema.NewJobError(schema.CodeUnsupportedAction, op)
}

func (Unsupported) Get(context.Context, *Session) error     { return unsupported("get") }
func (Unsupported) Put(context.Context, *Session) error     { return unsupported("put") }
func (Unsupported) Stat(context.Context, *Session) error    { return unsupported("stat") }
func (Unsupported) ListDir(context.Context, *Session) error { return unsupported("listdir") }
func (Unsupported) Mkdir(context.Context, *Session) error   { return unsupported("mkdir") }
func (Unsupported) Delete(context.Context, *Session) error  { return unsupported("delete") }
func (Unsupported) Copy(context.Context, *Session) error    { return unsupported("copy") }
func (Unsupported) Rename(context.Context, *Session) error  { return unsupported("rename") }
func (Unsupported) Symlink(context.Context, *Session) error { return unsupported("symlink") }
func (Unsupported) Chmod(context.Context, *Session) error   { return unsupported("chmod") }
func (Unsupported) Special(context.Context, *Session) error { return unsupported("special") }

// run dispatches one operation kind to b.
func run(ctx context.Context, b Backend, kind schema.OpKind, s *Session) error {
	switch kind {
	case schema.OpGet:
		return b.Get(ctx, s)
	case schema.OpPut:
		return b.Put(ctx, s)
	case schema.OpStat:
		return b.Stat(ctx, s)
	case schema.OpListDir:
		return b.ListDir(ctx, s)
	case schema.OpMkdir:
		return b.Mkdir(ctx, s)
	case schema.OpDelete:
		return b.Delete(ctx, s)
	case schema.OpCopy, schema.OpTransfer:
		return b.Copy(ctx, s)
	case schema.OpRename, schema.OpMove:
		return b.Rename(ctx, s)
	case schema.OpSymlink:
		return b.Symlink(ctx, s)
	case schema.OpChangeAttribute:
		return b.Chmod(ctx, s)
	case schema.OpSpecial:
		return b.Special(ctx, s)
	default:
		return fmt.Errorf("%w: kind %d", schema.ErrUnsupportedAction, kind)
	}
}

// ErrorPayload maps a backend error onto the wire. [schema.JobError]s are
// sent as they are, file system errors get their matching code and
// everything else is reported as an internal error.
func ErrorPayload(err error) protocol.ErrorPayload {
	var jerr *schema.JobError
	if errors.As(err, &jerr) {
		return protocol.ErrorPayload{Code: jerr.Code, Text: jerr.Text}
	}

	code := schema.CodeOf(err)

	switch {
	case code != schema.CodeInternal:
	case errors.Is(err, fs.ErrNotExist):
		code = schema.CodeDoesNotExist
	case errors.Is(err, fs.ErrExist):
		code = schema.CodeAlreadyExists
	case errors.Is(err, syscall.ENOTEMPTY):
		code = schema.CodeCouldNotWrite
	case errors.Is(err, fs.ErrPermission):
		code = schema.CodeAccessDenied
	case errors.Is(err, context.Canceled):
		code = schema.CodeUserCanceled
	}

	return protocol.ErrorPayload{Code: code, Text: errorText(err)}
}

// errorText returns the path of file system errors, the message otherwise.
// A path attached with [PathError] wins over the one of the file system.
func errorText(err error) string {
	var lerr *errorWithPath
	if errors.As(err, &lerr) {
		return lerr.path
	}

	var perr *fs.PathError
	if errors.As(err, &perr) {
		return perr.Path
	}

	return err.Error()
}

type errorWithPath struct {
	path string
	err  error
}

func (e *errorWithPath) Error() string { return e.path + ": " + e.err.Error() }
func (e *errorWithPath) Unwrap() error { return e.err }

// PathError attaches the user visible path to err. The path becomes the
// text of the reported error.
func PathError(path string, err error) error {
	if err == nil {
		return nil
	}

	return &errorWithPath{path: path, err: err}
}
