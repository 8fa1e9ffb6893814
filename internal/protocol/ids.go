package protocol

import "fmt"

// ID identifies the meaning of a frame. Ids are stable on the wire; new ids
// are appended, never renumbered.
type ID uint32

// Commands, application to worker.
const (
	CmdStart ID = iota + 65
	CmdMetaData
	CmdResumeAnswer
	CmdMessageBoxAnswer
	CmdHostInfo
	CmdPrivilegeAnswer
	CmdData
	CmdAbort
)

// Infos, worker to application.
const (
	InfTotalSize     ID = 10
	InfProcessedSize ID = 11
	InfSpeed         ID = 12
	InfRedirection   ID = 20
	InfMimeType      ID = 21
	InfErrorPage     ID = 22
	InfWarning       ID = 23
	InfInfoMessage   ID = 26
	InfMetaData      ID = 27
	InfMessageBox    ID = 28
	InfPosition      ID = 29
	InfTruncated     ID = 30
)

// Messages, worker to application.
const (
	MsgData           ID = 100
	MsgDataReq        ID = 101
	MsgError          ID = 102
	MsgConnected      ID = 103
	MsgFinished       ID = 104
	MsgStatEntry      ID = 105
	MsgListEntries    ID = 106
	MsgResume         ID = 108
	MsgAck            ID = 109
	MsgNeedSubURLData ID = 110
	MsgCanResume      ID = 111
	MsgOpened         ID = 112
	MsgWritten        ID = 113
	MsgHostInfoReq    ID = 114
	MsgPrivilegeExec  ID = 115
	MsgWorkerStatus   ID = 116
)

var idNames = map[ID]string{
	CmdStart:            "start",
	CmdMetaData:         "metadata",
	CmdResumeAnswer:     "resume-answer",
	CmdMessageBoxAnswer: "messagebox-answer",
	CmdHostInfo:         "host-info",
	CmdPrivilegeAnswer:  "privilege-answer",
	CmdData:             "data",
	CmdAbort:            "abort",
	InfTotalSize:        "total-size",
	InfProcessedSize:    "processed-size",
	InfSpeed:            "speed",
	InfRedirection:      "redirection",
	InfMimeType:         "mime-type",
	InfErrorPage:        "error-page",
	InfWarning:          "warning",
	InfInfoMessage:      "info-message",
	InfMetaData:         "metadata-blob",
	InfMessageBox:       "messagebox-request",
	InfPosition:         "position",
	InfTruncated:        "truncated",
	MsgData:             "data-chunk",
	MsgDataReq:          "data-request",
	MsgError:            "error",
	MsgConnected:        "connected",
	MsgFinished:         "finished",
	MsgStatEntry:        "stat-entry",
	MsgListEntries:      "list-entries",
	MsgResume:           "resume-request",
	MsgAck:              "ack",
	MsgNeedSubURLData:   "need-suburl-data",
	MsgCanResume:        "can-resume",
	MsgOpened:           "opened",
	MsgWritten:          "written",
	MsgHostInfoReq:      "host-info-request",
	MsgPrivilegeExec:    "privilege-exec-request",
	MsgWorkerStatus:     "worker-status",
}

func (id ID) String() string {
	if s, ok := idNames[id]; ok {
		return s
	}

	return fmt.Sprintf("id(%d)", uint32(id))
}
