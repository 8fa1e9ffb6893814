package worker

import "github.com/desertwitch/workio/internal/schema"

// Event is a translated worker frame.
type Event interface {
	isEvent()
}

type (
	// DataEvent is a chunk of downloaded data.
	DataEvent struct{ Data []byte }

	// TotalSizeEvent announces the total size of the operation.
	TotalSizeEvent struct{ Size uint64 }

	// ProcessedSizeEvent reports the processed size so far.
	ProcessedSizeEvent struct{ Size uint64 }

	// SpeedEvent reports the transfer speed in bytes per second.
	SpeedEvent struct{ BytesPerSecond uint64 }

	// PositionEvent reports the position of an open file.
	PositionEvent struct{ Offset uint64 }

	// TruncatedEvent reports the new length of a truncated file.
	TruncatedEvent struct{ Length uint64 }

	// StatEvent carries the result of a stat.
	StatEvent struct{ Entry schema.Entry }

	// EntriesEvent carries a batch of directory entries.
	EntriesEvent struct{ Entries []schema.Entry }

	// MetaDataEvent carries incoming metadata.
	MetaDataEvent struct{ MetaData schema.MetaData }

	// RedirectionEvent tells that the target moved.
	RedirectionEvent struct{ URL string }

	// MimeTypeEvent announces the content type.
	MimeTypeEvent struct{ MimeType string }

	// WarningEvent is a non-fatal warning.
	WarningEvent struct{ Text string }

	// InfoMessageEvent is a status message.
	InfoMessageEvent struct{ Text string }

	// ErrorPageEvent tells that the data is an error page.
	ErrorPageEvent struct{}

	// ConnectedEvent tells that the worker connected to its target.
	ConnectedEvent struct{}

	// OpenedEvent tells that a file was opened.
	OpenedEvent struct{}

	// WrittenEvent acknowledges written bytes.
	WrittenEvent struct{ Size uint64 }

	// CanResumeEvent tells that the worker resumes at an offset.
	CanResumeEvent struct{ Offset uint64 }

	// NeedSubURLDataEvent asks for the data of a sub URL.
	NeedSubURLDataEvent struct{}

	// AckEvent is a generic acknowledgement.
	AckEvent struct{}

	// FinishedEvent ends the operation successfully.
	FinishedEvent struct{}

	// ErrorEvent ends the operation with an error, either reported by the
	// worker or a transport fault.
	ErrorEvent struct{ Err *schema.JobError }
)

func (DataEvent) isEvent()           {}
func (TotalSizeEvent) isEvent()      {}
func (ProcessedSizeEvent) isEvent()  {}
func (SpeedEvent) isEvent()          {}
func (PositionEvent) isEvent()       {}
func (TruncatedEvent) isEvent()      {}
func (StatEvent) isEvent()           {}
func (EntriesEvent) isEvent()        {}
func (MetaDataEvent) isEvent()       {}
func (RedirectionEvent) isEvent()    {}
func (MimeTypeEvent) isEvent()       {}
func (WarningEvent) isEvent()        {}
func (InfoMessageEvent) isEvent()    {}
func (ErrorPageEvent) isEvent()      {}
func (ConnectedEvent) isEvent()      {}
func (OpenedEvent) isEvent()         {}
func (WrittenEvent) isEvent()        {}
func (CanResumeEvent) isEvent()      {}
func (NeedSubURLDataEvent) isEvent() {}
func (AckEvent) isEvent()            {}
func (FinishedEvent) isEvent()       {}
func (ErrorEvent) isEvent()          {}
