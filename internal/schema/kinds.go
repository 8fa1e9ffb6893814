package schema

import "fmt"

// OpKind is the kind of operation a job performs.
type OpKind uint8

// Operation kinds, stable on the wire.
const (
	OpGet OpKind = iota + 1
	OpPut
	OpMkdir
	OpDelete
	OpCopy
	OpMove
	OpStat
	OpListDir
	OpRename
	OpSymlink
	OpChangeAttribute
	OpSpecial
	OpTransfer
)

var opNames = map[OpKind]string{
	OpGet:             "get",
	OpPut:             "put",
	OpMkdir:           "mkdir",
	OpDelete:          "delete",
	OpCopy:            "copy",
	OpMove:            "move",
	OpStat:            "stat",
	OpListDir:         "listdir",
	OpRename:          "rename",
	OpSymlink:         "symlink",
	OpChangeAttribute: "chmod",
	OpSpecial:         "special",
	OpTransfer:        "transfer",
}

func (k OpKind) String() string {
	if s, ok := opNames[k]; ok {
		return s
	}

	return fmt.Sprintf("op(%d)", uint8(k))
}

// Valid returns if the kind is a known operation kind.
func (k OpKind) Valid() bool {
	_, ok := opNames[k]

	return ok
}

// Mutating returns if the operation changes state on the target.
func (k OpKind) Mutating() bool {
	switch k {
	case OpGet, OpStat, OpListDir:
		return false
	default:
		return true
	}
}

// JobState is the lifecycle state of a job.
type JobState uint8

const (
	StateQueued JobState = iota
	StateRunning
	StateSuspended
	StateFinished
	StateKilled
	StateError
)

func (s JobState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateFinished:
		return "finished"
	case StateKilled:
		return "killed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// IsTerminal returns if no further transition can follow the state.
func (s JobState) IsTerminal() bool {
	return s == StateFinished || s == StateKilled || s == StateError
}

// PrivilegeStatus is the outcome of a privilege confirmation.
type PrivilegeStatus uint8

const (
	PrivilegeNotAllowed PrivilegeStatus = iota
	PrivilegeAllowed
	PrivilegeCanceled
)

func (p PrivilegeStatus) String() string {
	switch p {
	case PrivilegeAllowed:
		return "allowed"
	case PrivilegeCanceled:
		return "canceled"
	default:
		return "not-allowed"
	}
}

// KillMode selects whether killing a job still emits its result.
type KillMode uint8

const (
	// KillQuietly drops the job and its subtree without any further
	// notification.
	KillQuietly KillMode = iota

	// KillEmitResult kills the job and still emits the terminal result.
	KillEmitResult
)
