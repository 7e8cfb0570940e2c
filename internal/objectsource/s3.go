// Package objectsource fetches memory document bodies from S3-compatible
// object storage.
package objectsource

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object too large")
)

// Options configures the S3 client. Endpoint and PathStyle target MinIO and
// other S3-compatible stores.
type Options struct {
	Region    string
	Endpoint  string
	PathStyle bool
	MaxBytes  int64
}

// ObjectGetter is the subset of *s3.Client used here.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads whole objects up to a size limit.
type S3Source struct {
	client   ObjectGetter
	maxBytes int64
}

// New loads AWS credentials from the default chain and builds an S3Source.
func New(ctx context.Context, opts Options) (*S3Source, error) {
	client, err := newS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, opts.MaxBytes), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client ObjectGetter, maxBytes int64) *S3Source {
	return &S3Source{client: client, maxBytes: maxBytes}
}

func newS3Client(ctx context.Context, opts Options) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	}), nil
}

// Fetch returns the object body. Objects larger than the configured maximum
// fail with ErrObjectTooLarge.
func (s *S3Source) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	if s.maxBytes > 0 && out.ContentLength != nil && *out.ContentLength > s.maxBytes {
		return nil, fmt.Errorf("s3://%s/%s is %d bytes: %w", bucket, key, *out.ContentLength, ErrObjectTooLarge)
	}

	var r io.Reader = out.Body
	if s.maxBytes > 0 {
		r = io.LimitReader(out.Body, s.maxBytes+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	if s.maxBytes > 0 && int64(len(body)) > s.maxBytes {
		return nil, fmt.Errorf("s3://%s/%s exceeds %d bytes: %w", bucket, key, s.maxBytes, ErrObjectTooLarge)
	}
	return body, nil
}
