package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"path"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/quiverdb/quiver/objectstore"
)

// UploadConfig configures the S3 uploader.
type UploadConfig struct {
	// PartSize is the minimum part size for multipart uploads.
	// Default: 8MB (larger than SDK default of 5MB for better throughput)
	PartSize int64

	// Concurrency is the number of concurrent part uploads.
	// Default: 5 (matches SDK default)
	Concurrency int

	// EnableChecksum enables CRC32C integrity validation.
	// Default: true
	EnableChecksum bool

	// LeavePartsOnError controls whether failed multipart uploads
	// are automatically aborted.
	// Default: false (abort on error)
	LeavePartsOnError bool
}

// DefaultUploadConfig returns production-oriented upload settings.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:          8 * 1024 * 1024,
		Concurrency:       5,
		EnableChecksum:    true,
		LeavePartsOnError: false,
	}
}

// Store implements objectstore.Store for Amazon S3. Shuffle and index
// artifacts stream to the bucket through multipart uploads; reads use
// ranged GETs.
type Store struct {
	client    Client
	bucket    string
	prefix    string
	uploadCfg UploadConfig
}

// Option configures a Store created by New.
type Option func(*storeOptions)

type storeOptions struct {
	client    Client
	prefix    string
	region    string
	uploadCfg UploadConfig
}

// WithPrefix prepends rootPrefix to all keys (e.g. "indices/").
func WithPrefix(rootPrefix string) Option {
	return func(o *storeOptions) {
		o.prefix = rootPrefix
	}
}

// WithRegion overrides the AWS region resolved from the environment.
func WithRegion(region string) Option {
	return func(o *storeOptions) {
		o.region = region
	}
}

// WithClient injects a preconfigured client instead of loading AWS
// configuration from the environment.
func WithClient(client Client) Option {
	return func(o *storeOptions) {
		o.client = client
	}
}

// WithUploadConfig overrides the default upload tuning.
func WithUploadConfig(cfg UploadConfig) Option {
	return func(o *storeOptions) {
		o.uploadCfg = cfg
	}
}

// New creates an S3 store for the given bucket. Unless WithClient is given,
// credentials and region are resolved from the default AWS config chain.
func New(ctx context.Context, bucket string, optFns ...Option) (*Store, error) {
	o := storeOptions{uploadCfg: DefaultUploadConfig()}
	for _, fn := range optFns {
		fn(&o)
	}

	if o.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if o.region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(o.region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		o.client = s3.NewFromConfig(cfg)
	}

	return &Store{
		client:    o.client,
		bucket:    bucket,
		prefix:    o.prefix,
		uploadCfg: o.uploadCfg,
	}, nil
}

// NewStore creates an S3 store from an existing client.
// rootPrefix is prepended to all keys (e.g. "indices/").
func NewStore(client Client, bucket, rootPrefix string) *Store {
	return &Store{
		client:    client,
		bucket:    bucket,
		prefix:    rootPrefix,
		uploadCfg: DefaultUploadConfig(),
	}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Open opens an object for reading.
func (s *Store) Open(ctx context.Context, name string) (objectstore.Blob, error) {
	key := s.key(name)

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, objectstore.ErrNotFound
		}
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, objectstore.ErrNotFound
		}
		return nil, err
	}

	return &s3Blob{
		client: s.client,
		bucket: s.bucket,
		key:    key,
		size:   aws.ToInt64(head.ContentLength),
	}, nil
}

// Create starts a streaming upload. Data written to the returned blob is
// piped into a background multipart upload; the object is committed when
// Close returns nil.
func (s *Store) Create(ctx context.Context, name string) (objectstore.WritableBlob, error) {
	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = s.uploadCfg.PartSize
		u.Concurrency = s.uploadCfg.Concurrency
		u.LeavePartsOnError = s.uploadCfg.LeavePartsOnError
	})

	return newWritableBlob(ctx, uploader, s.bucket, s.key(name), s.uploadCfg.EnableChecksum), nil
}

// Put uploads a small object in one request with CRC32C validation when
// checksums are enabled.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if s.uploadCfg.EnableChecksum {
		input.ChecksumCRC32C = aws.String(computeCRC32C(data))
	}

	_, err := s.client.PutObject(ctx, input)
	return err
}

// Delete removes an object.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	return err
}

// List returns all object names with the given prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.key(prefix)
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			relPath := aws.ToString(obj.Key)
			if len(s.prefix) > 0 && len(relPath) > len(s.prefix) && relPath[:len(s.prefix)] == s.prefix {
				relPath = relPath[len(s.prefix):]
				if len(relPath) > 0 && relPath[0] == '/' {
					relPath = relPath[1:]
				}
			}
			keys = append(keys, relPath)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// computeCRC32C returns the checksum in the base64 big-endian form S3 expects.
func computeCRC32C(data []byte) string {
	sum := crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli))
	b := []byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)}
	return base64.StdEncoding.EncodeToString(b)
}

// s3Blob implements objectstore.Blob via ranged GETs.
type s3Blob struct {
	client Client
	bucket string
	key    string
	size   int64
}

func (b *s3Blob) Close() error {
	return nil
}

func (b *s3Blob) Size() int64 {
	return b.size
}

func (b *s3Blob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= b.size {
		return 0, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	end := off + int64(len(p)) - 1
	if end >= b.size {
		end = b.size - 1
	}

	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.ReadFull(resp.Body, p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		if off+int64(n) == b.size {
			return n, nil
		}
		return n, io.EOF
	}

	expected := end - off + 1
	if int64(n) == expected && int64(n) < int64(len(p)) {
		return n, io.EOF
	}

	return n, err
}

func (b *s3Blob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= b.size {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	end := off + length - 1
	if end >= b.size {
		end = b.size - 1
	}

	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// writableBlob implements objectstore.WritableBlob through an io.Pipe feeding
// a background upload goroutine.
type writableBlob struct {
	pw     *io.PipeWriter
	pr     *io.PipeReader
	done   chan error
	closed atomic.Bool

	closeMu  sync.Mutex
	closeErr error
}

func newWritableBlob(ctx context.Context, uploader *manager.Uploader, bucket, key string, enableChecksum bool) *writableBlob {
	pr, pw := io.Pipe()

	blob := &writableBlob{
		pw:   pw,
		pr:   pr,
		done: make(chan error, 1),
	}

	go func() {
		input := &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		}
		if enableChecksum {
			input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
		}

		_, err := uploader.Upload(ctx, input)

		// Unblock any writer still feeding the pipe
		_ = pr.CloseWithError(err)
		blob.done <- err
	}()

	return blob
}

func (b *writableBlob) Write(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return b.pw.Write(p)
}

// Sync is a no-op: data is only committed on Close.
func (b *writableBlob) Sync() error {
	return nil
}

func (b *writableBlob) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()

	if !b.closed.CompareAndSwap(false, true) {
		return b.closeErr
	}

	if err := b.pw.Close(); err != nil {
		b.closeErr = err
		return err
	}

	b.closeErr = <-b.done
	return b.closeErr
}
