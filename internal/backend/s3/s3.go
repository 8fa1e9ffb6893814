// Package s3 implements the worker backend of the "s3" scheme. URLs have
// the form s3://bucket/key, directories are key prefixes ending in a
// slash.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/desertwitch/workio/internal/schema"
	"github.com/desertwitch/workio/internal/workerkit"
)

const listBatch = 200

// Client is the part of the S3 API the backend uses.
type Client interface {
	manager.UploadAPIClient

	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Backend serves s3 jobs.
type Backend struct {
	workerkit.Unsupported

	client   Client
	uploader *manager.Uploader
}

// New returns a [Backend] using client.
func New(client Client) *Backend {
	return &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

// NewDefault returns a [Backend] using the default AWS configuration of
// the environment.
func NewDefault(ctx context.Context, opts ...func(*s3.Options)) (*Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("(s3-new) unable to load AWS config: %w", err)
	}

	return New(s3.NewFromConfig(cfg, opts...)), nil
}

type location struct {
	bucket string
	key    string
}

func (l location) String() string {
	return "/" + l.bucket + "/" + l.key
}

// dir returns the prefix of the keys below l.
func (l location) dir() string {
	if l.key == "" || strings.HasSuffix(l.key, "/") {
		return l.key
	}

	return l.key + "/"
}

func locate(raw string) (location, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return location{}, schema.NewJobError(schema.CodeMalformedURL, raw)
	}

	return location{bucket: u.Host, key: strings.TrimPrefix(u.Path, "/")}, nil
}

// mapErr translates S3 errors into file system errors carrying the path
// of loc.
func mapErr(loc location, sentinel, err error) error {
	var (
		nsk *types.NoSuchKey
		nf  *types.NotFound
		nsb *types.NoSuchBucket
		ae  smithy.APIError
	)

	switch {
	case errors.As(err, &nsk), errors.As(err, &nf), errors.As(err, &nsb):
		return workerkit.PathError(loc.String(), fmt.Errorf("%w: %w", fs.ErrNotExist, err))
	case errors.As(err, &ae) && (ae.ErrorCode() == "AccessDenied" || ae.ErrorCode() == "Forbidden"):
		return workerkit.PathError(loc.String(), fmt.Errorf("%w: %w", fs.ErrPermission, err))
	case errors.Is(err, context.Canceled):
		return err
	}

	return workerkit.PathError(loc.String(), fmt.Errorf("%w: %w", sentinel, err))
}

func isNotFound(err error) bool {
	var (
		nsk *types.NoSuchKey
		nf  *types.NotFound
	)

	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (b *Backend) exists(ctx context.Context, loc location) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}

	return false, mapErr(loc, schema.ErrCouldNotRead, err)
}

func (b *Backend) Get(ctx context.Context, s *workerkit.Session) error {
	loc, err := locate(s.Args().URL)
	if err != nil {
		return err
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.key),
	})
	if err != nil {
		return mapErr(loc, schema.ErrCouldNotRead, err)
	}
	defer out.Body.Close()

	if ct := aws.ToString(out.ContentType); ct != "" {
		if err := s.MimeType(ct); err != nil {
			return err
		}
	}

	if out.ContentLength != nil {
		if err := s.TotalSize(uint64(*out.ContentLength)); err != nil {
			return err
		}
	}

	w := io.MultiWriter(s.NewDataWriter(), s.NewProgressWriter(0))
	if _, err := io.Copy(w, out.Body); err != nil {
		return mapErr(loc, schema.ErrCouldNotRead, err)
	}

	return nil
}

func (b *Backend) Put(ctx context.Context, s *workerkit.Session) error {
	args := s.Args()

	loc, err := locate(args.URL)
	if err != nil {
		return err
	}

	if !args.Overwrite {
		ok, err := b.exists(ctx, loc)
		if err != nil {
			return err
		}
		if ok {
			return workerkit.PathError(loc.String(), fs.ErrExist)
		}
	}

	pr, pw := io.Pipe()
	errChan := make(chan error, 1)

	go func() {
		_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(loc.bucket),
			Key:         aws.String(loc.key),
			Body:        pr,
			ContentType: contentType(loc.key),
		})
		pr.CloseWithError(err)
		errChan <- err
	}()

	progress := s.NewProgressWriter(0)

	for {
		data, err := s.ReadData(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			_, err = pw.Write(data)
		}
		if err == nil {
			_, err = progress.Write(data)
		}
		if err != nil {
			pw.CloseWithError(err)
			<-errChan

			return err
		}
	}

	pw.Close()

	if err := <-errChan; err != nil {
		return mapErr(loc, schema.ErrCouldNotWrite, err)
	}

	return nil
}

func contentType(key string) *string {
	if mt := mime.TypeByExtension(path.Ext(key)); mt != "" {
		return aws.String(mt)
	}

	return nil
}

func (b *Backend) Stat(ctx context.Context, s *workerkit.Session) error {
	loc, err := locate(s.Args().URL)
	if err != nil {
		return err
	}

	if loc.key != "" && !strings.HasSuffix(loc.key, "/") {
		head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(loc.bucket),
			Key:    aws.String(loc.key),
		})
		if err == nil {
			e := fileEntry(path.Base(loc.key), aws.ToInt64(head.ContentLength), head.LastModified)
			if ct := aws.ToString(head.ContentType); ct != "" {
				e.SetString(schema.FieldMimeType, ct)
			}
			if s.Args().Hash {
				e.SetString(schema.FieldHash, strings.Trim(aws.ToString(head.ETag), `"`))
			}

			return s.Stat(e)
		}
		if !isNotFound(err) {
			return mapErr(loc, schema.ErrCouldNotRead, err)
		}
	}

	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(loc.bucket),
		Prefix:  aws.String(loc.dir()),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return mapErr(loc, schema.ErrCouldNotRead, err)
	}

	if loc.key != "" && len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		return workerkit.PathError(loc.String(), fs.ErrNotExist)
	}

	name := path.Base(strings.TrimSuffix(loc.key, "/"))
	if loc.key == "" {
		name = "/"
	}

	return s.Stat(dirEntry(name))
}

func fileEntry(name string, size int64, mod *time.Time) schema.Entry {
	e := schema.NewEntry(name)
	e.SetNumber(schema.FieldSize, size)
	e.SetNumber(schema.FieldFileType, 0)
	if mod != nil {
		e.SetNumber(schema.FieldModTime, mod.Unix())
	}

	return e
}

func dirEntry(name string) schema.Entry {
	e := schema.NewEntry(name)
	e.SetNumber(schema.FieldFileType, int64(fs.ModeDir))

	return e
}

func (b *Backend) ListDir(ctx context.Context, s *workerkit.Session) error {
	loc, err := locate(s.Args().URL)
	if err != nil {
		return err
	}

	prefix := loc.dir()
	batch := make([]schema.Entry, 0, listBatch)

	var (
		token *string
		seen  uint64
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.Entries(batch); err != nil {
			return err
		}
		seen += uint64(len(batch))
		batch = batch[:0]

		return s.ProcessedSize(seen)
	}

	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(loc.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return mapErr(loc, schema.ErrCouldNotRead, err)
		}

		for _, cp := range out.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			batch = append(batch, dirEntry(name))
		}

		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			batch = append(batch, fileEntry(name, aws.ToInt64(obj.Size), obj.LastModified))
		}

		if len(batch) >= listBatch {
			if err := flush(); err != nil {
				return err
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	return flush()
}

// children returns every key below the directory of loc.
func (b *Backend) children(ctx context.Context, loc location) ([]string, error) {
	var (
		keys  []string
		token *string
	)

	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(loc.bucket),
			Prefix:            aws.String(loc.dir()),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, mapErr(loc, schema.ErrCouldNotRead, err)
		}

		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}

		if !aws.ToBool(out.IsTruncated) {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

func (b *Backend) Mkdir(ctx context.Context, s *workerkit.Session) error {
	loc, err := locate(s.Args().URL)
	if err != nil {
		return err
	}

	if loc.key == "" {
		return workerkit.PathError(loc.String(), fs.ErrExist)
	}

	keys, err := b.children(ctx, loc)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		return workerkit.PathError(loc.String(), fs.ErrExist)
	}

	if _, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.dir()),
		Body:   strings.NewReader(""),
	}); err != nil {
		return mapErr(loc, schema.ErrCouldNotWrite, err)
	}

	return nil
}

func (b *Backend) Delete(ctx context.Context, s *workerkit.Session) error {
	loc, err := locate(s.Args().URL)
	if err != nil {
		return err
	}

	if loc.key != "" && !strings.HasSuffix(loc.key, "/") {
		ok, err := b.exists(ctx, loc)
		if err != nil {
			return err
		}
		if ok {
			return b.remove(ctx, loc, loc.key)
		}
	}

	keys, err := b.children(ctx, loc)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return workerkit.PathError(loc.String(), fs.ErrNotExist)
	}

	marker := loc.dir()
	if !s.Args().Recursive && (len(keys) > 1 || keys[0] != marker) {
		return workerkit.PathError(loc.String(), syscall.ENOTEMPTY)
	}

	if err := s.TotalSize(uint64(len(keys))); err != nil {
		return err
	}

	for i, key := range keys {
		if err := b.remove(ctx, loc, key); err != nil {
			return err
		}
		if err := s.ProcessedSize(uint64(i + 1)); err != nil {
			return err
		}
	}

	return nil
}

func (b *Backend) remove(ctx context.Context, loc location, key string) error {
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return mapErr(loc, schema.ErrCouldNotWrite, err)
	}

	return nil
}

func (b *Backend) Copy(ctx context.Context, s *workerkit.Session) error {
	_, _, err := b.copyObject(ctx, s)

	return err
}

func (b *Backend) Rename(ctx context.Context, s *workerkit.Session) error {
	src, _, err := b.copyObject(ctx, s)
	if err != nil {
		return err
	}

	return b.remove(ctx, src, src.key)
}

func (b *Backend) copyObject(ctx context.Context, s *workerkit.Session) (location, location, error) {
	args := s.Args()

	src, err := locate(args.URL)
	if err != nil {
		return location{}, location{}, err
	}
	dst, err := locate(args.Dest)
	if err != nil {
		return location{}, location{}, err
	}

	ok, err := b.exists(ctx, src)
	if err != nil {
		return src, dst, err
	}
	if !ok {
		return src, dst, workerkit.PathError(src.String(), fs.ErrNotExist)
	}

	if !args.Overwrite {
		ok, err := b.exists(ctx, dst)
		if err != nil {
			return src, dst, err
		}
		if ok {
			return src, dst, workerkit.PathError(dst.String(), fs.ErrExist)
		}
	}

	source := src.bucket + "/" + (&url.URL{Path: src.key}).EscapedPath()

	if _, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dst.bucket),
		Key:        aws.String(dst.key),
		CopySource: aws.String(source),
	}); err != nil {
		return src, dst, mapErr(dst, schema.ErrCouldNotWrite, err)
	}

	return src, dst, nil
}
