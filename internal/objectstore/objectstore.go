// Package objectstore fetches stored evidence payloads from S3-compatible
// storage. The custody core only ever hashes bytes it is handed; this package
// is the collaborator that produces those bytes for file_r2 and url_snapshot
// sources.
package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Fetcher retrieves the bytes stored under a key.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Config holds S3/R2 connection settings. BaseEndpoint points at the R2
// account endpoint (or MinIO in development); leave it empty for plain AWS.
type Config struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

// S3Fetcher reads objects from one bucket of an S3-compatible store.
type S3Fetcher struct {
	client *s3.Client
	bucket string
}

// NewS3Fetcher builds a Fetcher from static credentials.
func NewS3Fetcher(ctx context.Context, cfg Config) (*S3Fetcher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)))
	if err != nil {
		return nil, fmt.Errorf("load object store config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
	})
	return &S3Fetcher{client: client, bucket: cfg.Bucket}, nil
}

// Fetch downloads the object stored under key and returns its bytes.
func (f *S3Fetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return data, nil
}
