package s3

import (
	"context"
	"errors"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var errMultipart = errors.New("multipart uploads are not supported")

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// fakeClient is an in-memory bucket store.
type fakeClient struct {
	mu       sync.Mutex
	objects  map[string]object
	denied   map[string]bool
	pageSize int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		objects: make(map[string]object),
		denied:  make(map[string]bool),
	}
}

func (c *fakeClient) put(bucket, key, data string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.objects[bucket+"/"+key] = object{data: []byte(data), modified: time.Now()}
}

func (c *fakeClient) get(bucket, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.objects[bucket+"/"+key]

	return string(o.data), ok
}

func (c *fakeClient) check(bucket, key string) error {
	if c.denied[bucket+"/"+key] {
		return &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}
	}

	return nil
}

func (c *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(aws.ToString(in.Bucket), aws.ToString(in.Key)); err != nil {
		return nil, err
	}

	c.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = object{
		data:        data,
		contentType: aws.ToString(in.ContentType),
		modified:    time.Now(),
	}

	return &s3.PutObjectOutput{}, nil
}

func (c *fakeClient) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errMultipart
}

func (c *fakeClient) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (c *fakeClient) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (c *fakeClient) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errMultipart
}

func (c *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(aws.ToString(in.Bucket), aws.ToString(in.Key)); err != nil {
		return nil, err
	}

	o, ok := c.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}

	out := &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(string(o.data))),
		ContentLength: aws.Int64(int64(len(o.data))),
		LastModified:  aws.Time(o.modified),
	}
	if o.contentType != "" {
		out.ContentType = aws.String(o.contentType)
	}

	return out, nil
}

func (c *fakeClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{Message: aws.String("not found")}
	}

	out := &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.data))),
		LastModified:  aws.Time(o.modified),
		ETag:          aws.String(`"etag-` + strconv.Itoa(len(o.data)) + `"`),
	}
	if o.contentType != "" {
		out.ContentType = aws.String(o.contentType)
	}

	return out, nil
}

func (c *fakeClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket := aws.ToString(in.Bucket) + "/"
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	var keys []string
	for k := range c.objects {
		if key, ok := strings.CutPrefix(k, bucket); ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	type item struct {
		key    string
		common bool
	}

	var items []item
	for _, key := range keys {
		if delim != "" {
			rest := strings.TrimPrefix(key, prefix)
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+len(delim)]
				if len(items) == 0 || items[len(items)-1].key != cp {
					items = append(items, item{key: cp, common: true})
				}

				continue
			}
		}
		items = append(items, item{key: key})
	}

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}

	end := len(items)
	limit := c.pageSize
	if in.MaxKeys != nil {
		limit = int(*in.MaxKeys)
	}
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(items))}
	if end < len(items) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}

	for _, it := range items[start:end] {
		if it.common {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(it.key)})

			continue
		}
		o := c.objects[bucket+it.key]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(it.key),
			Size:         aws.Int64(int64(len(o.data))),
			LastModified: aws.Time(o.modified),
		})
	}

	return out, nil
}

func (c *fakeClient) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(aws.ToString(in.Bucket), aws.ToString(in.Key)); err != nil {
		return nil, err
	}

	delete(c.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))

	return &s3.DeleteObjectOutput{}, nil
}

func (c *fakeClient) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	source, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.objects[source]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}

	c.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = o

	return &s3.CopyObjectOutput{}, nil
}
