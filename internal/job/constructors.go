package job

import (
	"github.com/desertwitch/workio/internal/schema"
)

// Get downloads target, emitting [DataEvent]s.
func Get(target string, flags Flags) *Job {
	return newJob(schema.OpGet, target, flags)
}

// Put uploads the data of src to target.
func Put(target string, mode uint32, src DataSource, flags Flags) *Job {
	j := newJob(schema.OpPut, target, flags)
	j.args.Mode = mode
	j.source = src

	return j
}

// Stat examines target, emitting a [StatEvent]. With hash set, the worker
// also computes a content hash.
func Stat(target string, hash bool, flags Flags) *Job {
	j := newJob(schema.OpStat, target, flags)
	j.args.Hash = hash

	return j
}

// ListDir lists target, emitting [EntriesEvent] batches.
func ListDir(target string, flags Flags) *Job {
	return newJob(schema.OpListDir, target, flags)
}

// Mkdir creates the directory target.
func Mkdir(target string, mode uint32, flags Flags) *Job {
	j := newJob(schema.OpMkdir, target, flags)
	j.args.Mode = mode

	return j
}

// Delete removes target. With recursive set, directories are removed with
// their contents.
func Delete(target string, recursive bool, flags Flags) *Job {
	j := newJob(schema.OpDelete, target, flags)
	j.args.Recursive = recursive

	return j
}

// Copy copies src to dest within one scheme.
func Copy(src, dest string, mode uint32, flags Flags) *Job {
	j := newJob(schema.OpCopy, src, flags)
	j.args.Dest = dest
	j.args.Mode = mode

	return j
}

// Move moves src to dest within one scheme.
func Move(src, dest string, flags Flags) *Job {
	j := newJob(schema.OpMove, src, flags)
	j.args.Dest = dest

	return j
}

// Rename renames src to dest.
func Rename(src, dest string, flags Flags) *Job {
	j := newJob(schema.OpRename, src, flags)
	j.args.Dest = dest

	return j
}

// Symlink creates the link dest pointing to target.
func Symlink(target, dest string, flags Flags) *Job {
	j := newJob(schema.OpSymlink, dest, flags)
	j.args.Dest = target

	return j
}

// Chmod changes the permission bits of target.
func Chmod(target string, mode uint32, flags Flags) *Job {
	j := newJob(schema.OpChangeAttribute, target, flags)
	j.args.Mode = mode

	return j
}

// Special runs a scheme specific command with an opaque payload.
func Special(target string, data []byte, flags Flags) *Job {
	j := newJob(schema.OpSpecial, target, flags)
	j.args.Data = data

	return j
}

// NewComposite returns a job without a worker of its own. It is running
// from the start and finishes once [Job.Finish] was called and all of its
// children are done.
func NewComposite(kind schema.OpKind, target string, flags Flags) *Job {
	j := newJob(kind, target, flags)
	j.state = schema.StateRunning
	j.urlErr = nil

	return j
}
