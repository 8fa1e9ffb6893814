// Package file implements the worker backend of the "file" scheme on top
// of a go-billy filesystem.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/desertwitch/workio/internal/schema"
	"github.com/desertwitch/workio/internal/workerkit"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"golang.org/x/sys/unix"
)

const (
	defaultFileMode = 0o644
	defaultDirMode  = 0o755
	listBatch       = 200
	partSuffix      = ".part"
	copySuffix      = ".workio"
)

// Backend serves file jobs from a filesystem. Operations failing with a
// permission error are retried on the elevated filesystem once the
// application allowed it.
type Backend struct {
	workerkit.Unsupported

	fs       billy.Filesystem
	elevated billy.Filesystem
}

// Option configures a [Backend].
type Option func(*Backend)

// WithElevated sets the filesystem used for operations that were allowed
// to run privileged.
func WithElevated(efs billy.Filesystem) Option {
	return func(b *Backend) {
		b.elevated = efs
	}
}

// New returns a [Backend] serving bfs.
func New(bfs billy.Filesystem, opts ...Option) *Backend {
	b := &Backend{fs: bfs}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// NewLocal returns a [Backend] serving the local filesystem below root.
func NewLocal(root string, opts ...Option) *Backend {
	return New(osfs.New(root), opts...)
}

// pathOf returns the cleaned path of a file URL.
func pathOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", schema.NewJobError(schema.CodeMalformedURL, raw)
	}

	if u.Path == "" {
		return "/", nil
	}

	return path.Clean("/" + u.Path), nil
}

// linkTarget keeps relative link targets as they are.
func linkTarget(raw string) (string, error) {
	if strings.Contains(raw, "://") {
		return pathOf(raw)
	}

	return raw, nil
}

// mutate runs op and retries it on the elevated filesystem when it failed
// for lack of permissions and the application allowed privileged
// execution.
func (b *Backend) mutate(ctx context.Context, s *workerkit.Session, p string, op func(billy.Filesystem) error) error {
	err := op(b.fs)
	if err == nil || !errors.Is(err, fs.ErrPermission) {
		return err
	}

	if s.Privileged() && b.elevated != nil {
		return op(b.elevated)
	}

	status, perr := s.RequestPrivilege(ctx)
	if perr != nil {
		return perr
	}

	switch status {
	case schema.PrivilegeAllowed:
		if b.elevated != nil {
			return op(b.elevated)
		}
	case schema.PrivilegeCanceled:
		return schema.NewJobError(schema.CodePrivilegeCanceled, p)
	}

	return schema.NewJobError(schema.CodeAccessDenied, p)
}

func (b *Backend) Get(ctx context.Context, s *workerkit.Session) error {
	p, err := pathOf(s.Args().URL)
	if err != nil {
		return err
	}

	info, err := b.fs.Stat(p)
	if err != nil {
		return workerkit.PathError(p, err)
	}
	if !info.Mode().IsRegular() {
		return workerkit.PathError(p, fmt.Errorf("%w: %w", ErrNotRegular, schema.ErrCouldNotRead))
	}

	f, err := b.fs.Open(p)
	if err != nil {
		return workerkit.PathError(p, err)
	}
	defer f.Close()

	if mt := mime.TypeByExtension(path.Ext(p)); mt != "" {
		if err := s.MimeType(mt); err != nil {
			return err
		}
	}

	if err := s.TotalSize(uint64(info.Size())); err != nil {
		return err
	}

	w := io.MultiWriter(s.NewDataWriter(), s.NewProgressWriter(0))
	if _, err := io.Copy(w, &contextReader{ctx: ctx, reader: f}); err != nil {
		return workerkit.PathError(p, err)
	}

	return nil
}

func (b *Backend) Put(ctx context.Context, s *workerkit.Session) error {
	args := s.Args()

	p, err := pathOf(args.URL)
	if err != nil {
		return err
	}

	if _, err := b.fs.Stat(p); err == nil && !args.Overwrite && !args.Resume {
		return workerkit.PathError(p, fs.ErrExist)
	}

	mode := fs.FileMode(args.Mode)
	if mode == 0 {
		mode = defaultFileMode
	}

	part := p + partSuffix
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC

	var offset uint64
	if args.Resume {
		if info, err := b.fs.Stat(part); err == nil && info.Size() > 0 {
			ok, err := s.CanResume(ctx, uint64(info.Size()))
			if err != nil {
				return err
			}
			if ok {
				offset = uint64(info.Size())
				flags = os.O_WRONLY | os.O_APPEND
			}
		}
	}

	return b.mutate(ctx, s, p, func(bfs billy.Filesystem) error {
		return b.receive(ctx, s, bfs, p, part, flags, mode, offset)
	})
}

func (b *Backend) receive(ctx context.Context, s *workerkit.Session, bfs billy.Filesystem,
	p, part string, flags int, mode fs.FileMode, offset uint64,
) error {
	f, err := bfs.OpenFile(part, flags, mode)
	if err != nil {
		return workerkit.PathError(p, err)
	}

	if offset > 0 {
		if err := s.Resumed(offset); err != nil {
			f.Close()

			return err
		}
	}

	progress := s.NewProgressWriter(offset)

	for {
		data, err := s.ReadData(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			f.Close()

			return err
		}

		if _, err := f.Write(data); err != nil {
			f.Close()

			return workerkit.PathError(p, fmt.Errorf("%w: %w", schema.ErrCouldNotWrite, err))
		}
		if _, err := progress.Write(data); err != nil {
			f.Close()

			return err
		}
	}

	if err := f.Close(); err != nil {
		return workerkit.PathError(p, err)
	}

	if _, err := bfs.Stat(p); err == nil {
		if err := bfs.Remove(p); err != nil {
			return workerkit.PathError(p, err)
		}
	}

	if err := bfs.Rename(part, p); err != nil {
		return workerkit.PathError(p, err)
	}

	return nil
}

func (b *Backend) Stat(ctx context.Context, s *workerkit.Session) error {
	p, err := pathOf(s.Args().URL)
	if err != nil {
		return err
	}

	e, err := b.entry(ctx, p, s.Args().Hash)
	if err != nil {
		return err
	}

	return s.Stat(e)
}

func (b *Backend) entry(ctx context.Context, p string, hash bool) (schema.Entry, error) {
	info, err := b.fs.Lstat(p)
	if err != nil {
		return schema.Entry{}, workerkit.PathError(p, err)
	}

	e := schema.EntryFromFileInfo(info)
	if p == "/" {
		e.SetString(schema.FieldName, "/")
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		if target, err := b.fs.Readlink(p); err == nil {
			e.SetString(schema.FieldLinkDest, target)
		}

	case info.Mode().IsRegular():
		if mt := mime.TypeByExtension(path.Ext(p)); mt != "" {
			e.SetString(schema.FieldMimeType, mt)
		}
		if hash {
			sum, err := b.checksum(ctx, b.fs, p)
			if err != nil {
				return schema.Entry{}, workerkit.PathError(p, err)
			}
			e.SetString(schema.FieldHash, sum)
		}
	}

	return e, nil
}

func (b *Backend) ListDir(_ context.Context, s *workerkit.Session) error {
	p, err := pathOf(s.Args().URL)
	if err != nil {
		return err
	}

	infos, err := b.fs.ReadDir(p)
	if err != nil {
		return workerkit.PathError(p, err)
	}

	if err := s.TotalSize(uint64(len(infos))); err != nil {
		return err
	}

	batch := make([]schema.Entry, 0, min(len(infos), listBatch))

	for i, info := range infos {
		e := schema.EntryFromFileInfo(info)
		if info.Mode()&fs.ModeSymlink != 0 {
			if target, err := b.fs.Readlink(path.Join(p, info.Name())); err == nil {
				e.SetString(schema.FieldLinkDest, target)
			}
		}
		batch = append(batch, e)

		if len(batch) == listBatch || i == len(infos)-1 {
			if err := s.Entries(batch); err != nil {
				return err
			}
			if err := s.ProcessedSize(uint64(i + 1)); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}

	return nil
}

func (b *Backend) Mkdir(ctx context.Context, s *workerkit.Session) error {
	p, err := pathOf(s.Args().URL)
	if err != nil {
		return err
	}

	if _, err := b.fs.Lstat(p); err == nil {
		return workerkit.PathError(p, fs.ErrExist)
	}

	if parent := path.Dir(p); parent != "/" {
		if _, err := b.fs.Stat(parent); err != nil {
			return workerkit.PathError(parent, err)
		}
	}

	mode := fs.FileMode(s.Args().Mode)
	if mode == 0 {
		mode = defaultDirMode
	}

	return b.mutate(ctx, s, p, func(bfs billy.Filesystem) error {
		return workerkit.PathError(p, bfs.MkdirAll(p, mode))
	})
}

func (b *Backend) Delete(ctx context.Context, s *workerkit.Session) error {
	p, err := pathOf(s.Args().URL)
	if err != nil {
		return err
	}

	info, err := b.fs.Lstat(p)
	if err != nil {
		return workerkit.PathError(p, err)
	}

	if info.IsDir() && !s.Args().Recursive {
		children, err := b.fs.ReadDir(p)
		if err != nil {
			return workerkit.PathError(p, err)
		}
		if len(children) > 0 {
			return workerkit.PathError(p, syscall.ENOTEMPTY)
		}
	}

	return b.mutate(ctx, s, p, func(bfs billy.Filesystem) error {
		if info.IsDir() {
			return workerkit.PathError(p, util.RemoveAll(bfs, p))
		}

		return workerkit.PathError(p, bfs.Remove(p))
	})
}

func (b *Backend) Rename(ctx context.Context, s *workerkit.Session) error {
	args := s.Args()

	src, err := pathOf(args.URL)
	if err != nil {
		return err
	}
	dst, err := pathOf(args.Dest)
	if err != nil {
		return err
	}

	if _, err := b.fs.Lstat(src); err != nil {
		return workerkit.PathError(src, err)
	}

	return b.mutate(ctx, s, dst, func(bfs billy.Filesystem) error {
		if err := b.clear(bfs, dst, args.Overwrite); err != nil {
			return err
		}

		return workerkit.PathError(dst, bfs.Rename(src, dst))
	})
}

func (b *Backend) Symlink(ctx context.Context, s *workerkit.Session) error {
	args := s.Args()

	link, err := pathOf(args.URL)
	if err != nil {
		return err
	}
	target, err := linkTarget(args.Dest)
	if err != nil {
		return err
	}

	return b.mutate(ctx, s, link, func(bfs billy.Filesystem) error {
		if err := b.clear(bfs, link, args.Overwrite); err != nil {
			return err
		}

		return workerkit.PathError(link, bfs.Symlink(target, link))
	})
}

func (b *Backend) Chmod(ctx context.Context, s *workerkit.Session) error {
	p, err := pathOf(s.Args().URL)
	if err != nil {
		return err
	}

	if _, err := b.fs.Stat(p); err != nil {
		return workerkit.PathError(p, err)
	}

	mode := fs.FileMode(s.Args().Mode).Perm()

	return b.mutate(ctx, s, p, func(bfs billy.Filesystem) error {
		return workerkit.PathError(p, chmod(bfs, p, mode))
	})
}

// chmod changes the mode through the filesystem when it supports it and
// on the host path below the filesystem root otherwise.
func chmod(bfs billy.Filesystem, p string, mode fs.FileMode) error {
	if ch, ok := bfs.(billy.Change); ok {
		return ch.Chmod(p, mode) //nolint:wrapcheck
	}

	rooted, ok := bfs.(interface{ Root() string })
	if !ok {
		return schema.NewJobError(schema.CodeUnsupportedAction, "chmod")
	}

	if err := unix.Chmod(filepath.Join(rooted.Root(), p), uint32(mode)); err != nil {
		return &fs.PathError{Op: "chmod", Path: p, Err: err}
	}

	return nil
}

// clear makes room for a new entry at p, or fails when p exists and must
// not be overwritten.
func (b *Backend) clear(bfs billy.Filesystem, p string, overwrite bool) error {
	info, err := bfs.Lstat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return workerkit.PathError(p, err)
	}

	if !overwrite || info.IsDir() {
		return workerkit.PathError(p, fs.ErrExist)
	}

	return workerkit.PathError(p, bfs.Remove(p))
}
