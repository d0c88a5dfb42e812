package s3

import (
	"bytes"
	"context"
	"errors"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/kmemgo/blobstore"
)

// Options configures New.
type Options struct {
	// Prefix is prepended to all keys (e.g. "savestates/").
	Prefix string
	// Region overrides the AWS region from the environment.
	Region string
	// Upload configures multipart uploads.
	Upload UploadConfig
}

// Store implements blobstore.Store backed by Amazon S3.
//
// Objects only become visible once an upload completes, so Put and
// Create/Close are atomic publishes by construction.
type Store struct {
	client    Client
	bucket    string
	prefix    string
	uploadCfg UploadConfig
}

var _ blobstore.Store = (*Store)(nil)

// New creates a Store using credentials and region resolved from the
// environment (shared config, instance roles).
func New(ctx context.Context, bucket string, optFns ...func(o *Options)) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("s3: bucket is empty")
	}

	opts := Options{Upload: DefaultUploadConfig()}
	for _, fn := range optFns {
		fn(&opts)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	return &Store{
		client:    s3.NewFromConfig(cfg),
		bucket:    bucket,
		prefix:    opts.Prefix,
		uploadCfg: opts.Upload,
	}, nil
}

// NewStore creates a Store with an injected client.
// rootPrefix is prepended to all keys (e.g. "savestates/").
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

// Open opens a blob for reading.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	return openBlob(ctx, s.client, s.bucket, s.key(name))
}

// Create starts a streaming multipart upload. The object becomes visible
// when Close returns.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	uploader := newUploader(s.client, s.uploadCfg)
	return newStreamingWritableBlob(ctx, s.client, uploader, s.bucket, s.key(name), s.uploadCfg.EnableChecksum), nil
}

// Put writes a blob in a single request, with CRC32C validation when
// checksums are enabled.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	key := s.key(name)

	if s.uploadCfg.EnableChecksum {
		return putWithChecksum(ctx, s.client, s.bucket, key, data)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return err
}

// Delete removes a blob. S3 DeleteObject is idempotent, so deleting a
// missing blob is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	return err
}

// List returns blob names under the given prefix, relative to the store
// prefix and sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	return listObjects(ctx, s.client, s.bucket, s.key(prefix), s.prefix)
}
