package workerkit

import (
	"context"
	"fmt"
	"io"

	"github.com/desertwitch/workio/internal/protocol"
	"github.com/desertwitch/workio/internal/schema"
)

// Session is the running operation's view of the connection.
type Session struct {
	w    *Worker
	kind schema.OpKind
	args protocol.OpArgs
	meta schema.MetaData
}

// Kind returns the operation kind.
func (s *Session) Kind() schema.OpKind { return s.kind }

// Args returns the operation arguments.
func (s *Session) Args() protocol.OpArgs { return s.args }

// Meta returns one metadata value sent with the operation.
func (s *Session) Meta(key string) string { return s.meta.Value(key) }

// Host returns the host the worker serves.
func (s *Session) Host() string { return s.w.host }

// Data sends a chunk of downloaded data.
func (s *Session) Data(b []byte) error { return s.w.raw(protocol.MsgData, b) }

// TotalSize announces the size of the operation.
func (s *Session) TotalSize(n uint64) error {
	return s.w.raw(protocol.InfTotalSize, protocol.EncodeSize(n))
}

// ProcessedSize reports the progress of the operation.
func (s *Session) ProcessedSize(n uint64) error {
	return s.w.raw(protocol.InfProcessedSize, protocol.EncodeSize(n))
}

// Speed reports a transfer speed measured by the worker itself.
func (s *Session) Speed(bytesPerSecond uint64) error {
	return s.w.raw(protocol.InfSpeed, protocol.EncodeSize(bytesPerSecond))
}

// Position reports the position in an opened file.
func (s *Session) Position(offset uint64) error {
	return s.w.raw(protocol.InfPosition, protocol.EncodeSize(offset))
}

// Written acknowledges written bytes.
func (s *Session) Written(n uint64) error {
	return s.w.raw(protocol.MsgWritten, protocol.EncodeSize(n))
}

// Resumed tells the application the transfer continues at offset.
func (s *Session) Resumed(offset uint64) error {
	return s.w.raw(protocol.MsgCanResume, protocol.EncodeSize(offset))
}

// Connected tells the application the target was reached.
func (s *Session) Connected() error { return s.w.raw(protocol.MsgConnected, nil) }

// Stat sends the result of a stat.
func (s *Session) Stat(e schema.Entry) error { return s.w.send(protocol.MsgStatEntry, e) }

// Entries sends a batch of directory entries.
func (s *Session) Entries(entries []schema.Entry) error {
	return s.w.send(protocol.MsgListEntries, entries)
}

// MetaData sends metadata to the application.
func (s *Session) MetaData(md schema.MetaData) error {
	payload, err := protocol.EncodeMetaData(md)
	if err != nil {
		return fmt.Errorf("(workerkit-metadata) %w", err)
	}

	return s.w.raw(protocol.InfMetaData, payload)
}

// MimeType announces the content type.
func (s *Session) MimeType(mime string) error {
	return s.w.raw(protocol.InfMimeType, []byte(mime))
}

// Redirection tells the application the target moved.
func (s *Session) Redirection(url string) error {
	return s.w.raw(protocol.InfRedirection, []byte(url))
}

// Warning sends a non-fatal warning.
func (s *Session) Warning(text string) error {
	return s.w.raw(protocol.InfWarning, []byte(text))
}

// InfoMessage sends a status message.
func (s *Session) InfoMessage(text string) error {
	return s.w.raw(protocol.InfInfoMessage, []byte(text))
}

// ReadData asks for the next chunk of upload data and blocks until it
// arrived. The end of the data is reported as [io.EOF].
func (s *Session) ReadData(ctx context.Context) ([]byte, error) {
	if err := s.w.raw(protocol.MsgDataReq, nil); err != nil {
		return nil, err
	}

	data, err := s.w.await(ctx, protocol.CmdData)
	if err != nil {
		return nil, fmt.Errorf("(workerkit-read) %w", err)
	}

	if len(data) == 0 {
		return nil, io.EOF
	}

	return data, nil
}

// CanResume asks whether a partial transfer may continue at offset.
func (s *Session) CanResume(ctx context.Context, offset uint64) (bool, error) {
	if err := s.w.raw(protocol.MsgResume, protocol.EncodeSize(offset)); err != nil {
		return false, err
	}

	payload, err := s.w.await(ctx, protocol.CmdResumeAnswer)
	if err != nil {
		return false, fmt.Errorf("(workerkit-resume) %w", err)
	}

	ok, err := protocol.DecodeBool(payload)
	if err != nil {
		return false, fmt.Errorf("(workerkit-resume) %w", err)
	}

	return ok, nil
}

// MessageBox asks the user a question and returns one of the protocol
// answers.
func (s *Session) MessageBox(ctx context.Context, req protocol.MessageBoxRequest) (int, error) {
	if err := s.w.send(protocol.InfMessageBox, req); err != nil {
		return protocol.AnswerCancel, err
	}

	payload, err := s.w.await(ctx, protocol.CmdMessageBoxAnswer)
	if err != nil {
		return protocol.AnswerCancel, fmt.Errorf("(workerkit-messagebox) %w", err)
	}

	var ans protocol.MessageBoxAnswer
	if err := protocol.Unmarshal(payload, &ans); err != nil {
		return protocol.AnswerCancel, fmt.Errorf("(workerkit-messagebox) %w", err)
	}

	return ans.Code, nil
}

// LookupHost resolves host through the application.
func (s *Session) LookupHost(ctx context.Context, host string) ([]string, error) {
	if err := s.w.send(protocol.MsgHostInfoReq, protocol.HostInfoRequest{Host: host}); err != nil {
		return nil, err
	}

	payload, err := s.w.await(ctx, protocol.CmdHostInfo)
	if err != nil {
		return nil, fmt.Errorf("(workerkit-hostinfo) %w", err)
	}

	var resp protocol.HostInfoResponse
	if err := protocol.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("(workerkit-hostinfo) %w", err)
	}

	if resp.Err != "" {
		return nil, fmt.Errorf("(workerkit-hostinfo) %w: %s: %s", ErrHostInfo, host, resp.Err)
	}

	return resp.Addrs, nil
}

// RequestPrivilege asks the application whether the operation may run
// with elevated privileges.
func (s *Session) RequestPrivilege(ctx context.Context) (schema.PrivilegeStatus, error) {
	if err := s.w.raw(protocol.MsgPrivilegeExec, nil); err != nil {
		return schema.PrivilegeNotAllowed, err
	}

	payload, err := s.w.await(ctx, protocol.CmdPrivilegeAnswer)
	if err != nil {
		return schema.PrivilegeNotAllowed, fmt.Errorf("(workerkit-privilege) %w", err)
	}

	var ans protocol.PrivilegeAnswer
	if err := protocol.Unmarshal(payload, &ans); err != nil {
		return schema.PrivilegeNotAllowed, fmt.Errorf("(workerkit-privilege) %w", err)
	}

	return ans.Status, nil
}

// Privileged reports whether the application already allowed privileged
// execution for this operation.
func (s *Session) Privileged() bool { return s.args.Privileged }

// ProgressWriter counts bytes written through it and reports them as
// processed size.
type ProgressWriter struct {
	s    *Session
	done uint64
}

// NewProgressWriter returns a writer reporting progress from offset on.
func (s *Session) NewProgressWriter(offset uint64) *ProgressWriter {
	return &ProgressWriter{s: s, done: offset}
}

func (p *ProgressWriter) Write(b []byte) (int, error) {
	p.done += uint64(len(b))
	if err := p.s.ProcessedSize(p.done); err != nil {
		return 0, err
	}

	return len(b), nil
}

// Done returns the bytes counted so far.
func (p *ProgressWriter) Done() uint64 { return p.done }

// DataWriter sends everything written to it as download data.
type DataWriter struct{ s *Session }

// NewDataWriter returns an [io.Writer] sending data chunks.
func (s *Session) NewDataWriter() *DataWriter { return &DataWriter{s: s} }

func (d *DataWriter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}

	if err := d.s.Data(b); err != nil {
		return 0, err
	}

	return len(b), nil
}
