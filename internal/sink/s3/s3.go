// Package s3 stores patches in an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/vk/patchgridgo/internal/ctxlog"
	"github.com/vk/patchgridgo/internal/imagery"
	"github.com/vk/patchgridgo/internal/metrics"
	"github.com/vk/patchgridgo/internal/sink"
)

// Config selects the bucket and how to reach it. Empty keys fall back to
// the default AWS credential chain.
type Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// API is the subset of the S3 client the sink uses.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Sink uploads the files of each patch under <prefix>/<name>/.
type Sink struct {
	api     API
	bucket  string
	prefix  string
	metrics *metrics.Metrics
}

var _ imagery.Sink = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink)

// WithMetrics counts persisted bytes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sink) { s.metrics = m }
}

// NewClient builds an S3 client from cfg.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		loadOpts = append(loadOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// New creates a sink writing through api.
func New(api API, bucket, prefix string, opts ...Option) (*Sink, error) {
	if bucket == "" {
		return nil, errors.New("s3 sink needs a bucket")
	}
	s := &Sink{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureBucket creates the bucket unless it exists.
func (s *Sink) EnsureBucket(ctx context.Context) error {
	_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFoundError(err) {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}

	_, err = s.api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil && !isBucketAlreadyOwnedByYou(err) {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	ctxlog.FromContext(ctx).Info("🪣 Created bucket.", "bucket", s.bucket)
	return nil
}

// Key returns the object key of a patch file.
func (s *Sink) Key(name, file string) string {
	return path.Join(s.prefix, name, file)
}

// Save uploads the band, mask and metadata objects. The metadata goes last
// so its presence marks a complete patch.
func (s *Sink) Save(ctx context.Context, name string, r *imagery.Raster) error {
	files, err := sink.Encode(name, r)
	if err != nil {
		return err
	}

	for _, f := range files {
		_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(s.Key(name, f.Name)),
			Body:          bytes.NewReader(f.Data),
			ContentLength: aws.Int64(int64(len(f.Data))),
			ContentType:   aws.String(f.ContentType),
		})
		if err != nil {
			return fmt.Errorf("failed to put object %s in bucket %s: %w", s.Key(name, f.Name), s.bucket, err)
		}
	}

	size := sink.Size(files)
	s.metrics.AddBytesPersisted(size)
	ctxlog.FromContext(ctx).Debug("Patch uploaded.", "job", name, "bucket", s.bucket, "prefix", s.Key(name, ""), "bytes", size)
	return nil
}

func isBucketAlreadyOwnedByYou(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
	}
	return false
}

func isNotFoundError(err error) bool {
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchBucket" || code == "404"
	}
	return false
}
