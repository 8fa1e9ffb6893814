package file

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/desertwitch/workio/internal/schema"
	"github.com/desertwitch/workio/internal/workerkit"
	"github.com/go-git/go-billy/v5"
	"github.com/zeebo/blake3"
)

//nolint:containedctx
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, context.Canceled
	default:
		return cr.reader.Read(p)
	}
}

type syncer interface {
	Sync() error
}

func (b *Backend) Copy(ctx context.Context, s *workerkit.Session) error {
	args := s.Args()

	src, err := pathOf(args.URL)
	if err != nil {
		return err
	}
	dst, err := pathOf(args.Dest)
	if err != nil {
		return err
	}

	info, err := b.fs.Stat(src)
	if err != nil {
		return workerkit.PathError(src, err)
	}
	if !info.Mode().IsRegular() {
		return schema.NewJobError(schema.CodeUnsupportedAction, "copy of "+src)
	}

	mode := fs.FileMode(args.Mode)
	if mode == 0 {
		mode = info.Mode().Perm()
	}

	if err := s.TotalSize(uint64(info.Size())); err != nil {
		return err
	}

	return b.mutate(ctx, s, dst, func(bfs billy.Filesystem) error {
		return b.copyFile(ctx, s, bfs, src, dst, mode, args.Overwrite)
	})
}

// copyFile copies src into a temporary file next to dst, verifies the copy
// against the source checksum and renames it into place.
func (b *Backend) copyFile(ctx context.Context, s *workerkit.Session, bfs billy.Filesystem,
	src, dst string, mode fs.FileMode, overwrite bool,
) error {
	var transferComplete bool

	srcFile, err := b.fs.Open(src)
	if err != nil {
		return workerkit.PathError(src, err)
	}
	defer srcFile.Close()

	tmpPath := dst + copySuffix
	defer func() {
		if !transferComplete {
			bfs.Remove(tmpPath) //nolint:errcheck
		}
	}()

	dstFile, err := bfs.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return workerkit.PathError(dst, err)
	}
	defer dstFile.Close()

	srcHasher := blake3.New()
	dstHasher := blake3.New()

	ctxReader := &contextReader{
		ctx:    ctx,
		reader: io.TeeReader(srcFile, srcHasher),
	}
	multiWriter := io.MultiWriter(dstFile, dstHasher, s.NewProgressWriter(0))

	if _, err := io.Copy(multiWriter, ctxReader); err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("transfer canceled: %w", err)
		}

		return workerkit.PathError(dst, fmt.Errorf("%w: %w", schema.ErrCouldNotWrite, err))
	}

	if sf, ok := dstFile.(syncer); ok {
		if err := sf.Sync(); err != nil {
			return workerkit.PathError(dst, err)
		}
	}

	srcChecksum := hex.EncodeToString(srcHasher.Sum(nil))
	dstChecksum := hex.EncodeToString(dstHasher.Sum(nil))

	if srcChecksum != dstChecksum {
		return workerkit.PathError(dst, fmt.Errorf("%w: %w: %s (src) != %s (dst)",
			schema.ErrCouldNotWrite, ErrHashMismatch, srcChecksum, dstChecksum))
	}

	if err := dstFile.Close(); err != nil {
		return workerkit.PathError(dst, err)
	}

	if err := b.clear(bfs, dst, overwrite); err != nil {
		return err
	}

	if err := bfs.Rename(tmpPath, dst); err != nil {
		return workerkit.PathError(dst, err)
	}

	transferComplete = true

	return nil
}

// checksum returns the hex encoded blake3 hash of p.
func (b *Backend) checksum(ctx context.Context, bfs billy.Filesystem, p string) (string, error) {
	f, err := bfs.Open(p)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, &contextReader{ctx: ctx, reader: f}); err != nil {
		return "", err //nolint:wrapcheck
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
