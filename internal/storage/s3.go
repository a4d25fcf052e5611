package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound is returned when the remote object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore reads objects from a remote bucket.
type ObjectStore interface {
	Download(ctx context.Context, key string, w io.Writer) error
}

// S3Config configures an S3ObjectStore. Endpoint is set for S3-compatible
// services and switches the client to path-style addressing.
type S3Config struct {
	Bucket   string
	Endpoint string
	Region   string
}

// S3ObjectStore downloads objects from a fixed bucket.
type S3ObjectStore struct {
	client *s3.Client
	bucket string
}

// NewS3ObjectStore builds a client from the default AWS credential chain.
func NewS3ObjectStore(ctx context.Context, cfg S3Config) (*S3ObjectStore, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3ObjectStore) Bucket() string { return s.bucket }

func (s *S3ObjectStore) Download(ctx context.Context, key string, w io.Writer) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrNotFound)
		}
		return fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

var _ ObjectStore = (*S3ObjectStore)(nil)
