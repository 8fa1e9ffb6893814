package job

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/desertwitch/workio/internal/protocol"
	"github.com/desertwitch/workio/internal/schema"
)

const (
	// MetaUnitTesting in the outgoing metadata of a top-level job allows
	// privileged execution without asking.
	MetaUnitTesting = "UnitTesting"

	// MetaTestData is the incoming marker set when privileged execution was
	// allowed through [MetaUnitTesting].
	MetaTestData = "TestData"

	// TestDataPrivilegeAllowed is the value of [MetaTestData].
	TestDataPrivilegeAllowed = "PrivilegeOperationAllowed"
)

type privilegeCaption struct {
	title   string
	message string
}

var privilegeCaptions = map[schema.OpKind]privilegeCaption{
	schema.OpChangeAttribute: {
		"Change Attribute",
		"Root privileges are required to change file attributes. Do you want to continue?",
	},
	schema.OpCopy: {
		"Copy Files",
		"Root privileges are required to complete the copy operation. Do you want to continue?",
	},
	schema.OpDelete: {
		"Delete Files",
		"Root privileges are required to complete the delete operation. " +
			"However, doing so may damage your system. Do you want to continue?",
	},
	schema.OpMkdir: {
		"Create Folder",
		"Root privileges are required to create this folder. Do you want to continue?",
	},
	schema.OpMove: {
		"Move Items",
		"Root privileges are required to complete the move operation. Do you want to continue?",
	},
	schema.OpRename: {
		"Rename",
		"Root privileges are required to complete renaming. Do you want to continue?",
	},
	schema.OpSymlink: {
		"Create Symlink",
		"Root privileges are required to create a symlink. Do you want to continue?",
	},
	schema.OpTransfer: {
		"Transfer data",
		"Root privileges are required to complete transferring data. Do you want to continue?",
	},
}

// PrivilegeRequest returns the confirmation dialog for a privileged kind.
func PrivilegeRequest(kind schema.OpKind) protocol.MessageBoxRequest {
	c, ok := privilegeCaptions[kind]
	if !ok {
		c = privilegeCaption{
			"Privileged Operation",
			"Root privileges are required to complete this operation. Do you want to continue?",
		}
	}

	return protocol.MessageBoxRequest{
		Kind:      protocol.BoxWarningContinueCancel,
		Text:      c.message,
		Title:     c.title,
		Primary:   "Continue",
		Secondary: "Cancel",
	}
}

// TryAskPrivilege decides whether j may run its privileged variant.
//
// A child asks its parent, which must carry [PrivilegeExecution] itself.
// The top-level job asks its [Confirmer] once and keeps the answer, so all
// descendants share a single confirmation.
func (j *Job) TryAskPrivilege(ctx context.Context) schema.PrivilegeStatus {
	j.privMu.Lock()
	defer j.privMu.Unlock()

	if j.privAsked {
		return j.privStatus
	}

	if parent := j.Parent(); parent != nil {
		if parent.flags&PrivilegeExecution == 0 {
			return schema.PrivilegeNotAllowed
		}

		status := parent.TryAskPrivilege(ctx)
		if status == schema.PrivilegeAllowed {
			if marker := parent.QueryMetaData(MetaTestData); marker != "" {
				j.mu.Lock()
				j.incoming.Set(MetaTestData, marker)
				j.mu.Unlock()
			}
		}
		j.privAsked = true
		j.privStatus = status

		return status
	}

	if j.flags&PrivilegeExecution == 0 {
		return schema.PrivilegeNotAllowed
	}

	j.mu.Lock()
	bypass := j.outgoing.Value(MetaUnitTesting) == "true"
	if bypass {
		j.incoming.Set(MetaTestData, TestDataPrivilegeAllowed)
	}
	confirmer := j.confirmer
	j.mu.Unlock()

	if bypass {
		j.privAsked = true
		j.privStatus = schema.PrivilegeAllowed

		return schema.PrivilegeAllowed
	}

	if confirmer == nil {
		return schema.PrivilegeNotAllowed
	}

	answer := confirmer.Confirm(ctx, PrivilegeRequest(j.kind))

	j.privAsked = true
	if answer == protocol.AnswerPrimary {
		j.privStatus = schema.PrivilegeAllowed
	} else {
		j.privStatus = schema.PrivilegeCanceled
	}

	slog.Debug("Privilege confirmation answered", "job", j.id, "op", j.kind, "status", j.privStatus)

	return j.privStatus
}

// PrivilegeAsked reports whether the gate already holds an answer for j.
func (j *Job) PrivilegeAsked() bool {
	j.privMu.Lock()
	defer j.privMu.Unlock()

	return j.privAsked
}

// PrivilegeError returns the job error for a status that is not allowed.
func PrivilegeError(kind schema.OpKind, status schema.PrivilegeStatus) *schema.JobError {
	switch status {
	case schema.PrivilegeAllowed:
		return nil
	case schema.PrivilegeCanceled:
		return schema.NewJobError(schema.CodePrivilegeCanceled, kind.String())
	default:
		return schema.NewJobError(schema.CodePrivilegeDenied, kind.String())
	}
}

const descriptionWidth = 100

// describeURL renders a URL for job descriptions.
func describeURL(raw string) string {
	if raw == "" {
		return ""
	}

	display := raw
	if u, err := url.Parse(raw); err == nil {
		switch u.Scheme {
		case "data":
			return "data:[...]"
		case "file":
			display = u.Path
		}
	}

	return squeeze(display, descriptionWidth)
}

// squeeze shortens s to at most width runes by cutting out its middle.
func squeeze(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}

	part := (width - 3) / 2 //nolint:mnd

	return string(r[:part]) + "..." + string(r[len(r)-part:])
}

func (j *Job) description() DescriptionEvent {
	src := describeURL(j.args.URL)
	dst := describeURL(j.args.Dest)

	switch j.kind {
	case schema.OpCopy:
		return DescriptionEvent{Title: "Copying", Source: src, Dest: dst}
	case schema.OpMove, schema.OpRename:
		return DescriptionEvent{Title: "Moving", Source: src, Dest: dst}
	case schema.OpMkdir:
		return DescriptionEvent{Title: "Creating directory", Source: src}
	case schema.OpDelete:
		return DescriptionEvent{Title: "Deleting", Source: src}
	case schema.OpStat, schema.OpListDir:
		return DescriptionEvent{Title: "Examining", Source: src}
	case schema.OpSpecial:
		return DescriptionEvent{Title: "Mounting", Source: src, Dest: dst}
	default:
		return DescriptionEvent{Title: "Transferring", Source: src, Dest: dst}
	}
}
