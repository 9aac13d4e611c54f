package store

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Backend stores hook definitions as objects in an S3 bucket.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Backend creates an uninitialized S3 backend.
func NewS3Backend() *S3Backend {
	return &S3Backend{}
}

// Init implements Backend. Recognized keys: bucket (required), region,
// prefix, profile, accessKey/secretKey, endpoint (for S3-compatible stores).
func (b *S3Backend) Init(config map[string]interface{}) error {
	bucket, _ := config["bucket"].(string)
	if bucket == "" {
		return fmt.Errorf("%w: bucket is required for the s3 backend", ErrInvalidConfig)
	}
	b.bucket = bucket

	if prefix, ok := config["prefix"].(string); ok {
		b.prefix = strings.TrimSuffix(prefix, "/")
	}

	region, _ := config["region"].(string)
	if region == "" {
		region = "us-east-1"
	}

	ctx := context.Background()
	var (
		cfg aws.Config
		err error
	)

	profile, _ := config["profile"].(string)
	accessKey, _ := config["accessKey"].(string)
	secretKey, _ := config["secretKey"].(string)

	switch {
	case profile != "":
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithSharedConfigProfile(profile),
		)
	case accessKey != "" && secretKey != "":
		creds := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(creds),
		)
	default:
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
		)
	}
	if err != nil {
		return fmt.Errorf("failed to load aws configuration: %w", err)
	}

	endpoint, _ := config["endpoint"].(string)
	b.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return nil
}

// Save implements Backend.
func (b *S3Backend) Save(ctx context.Context, key string, data io.Reader) error {
	if b.client == nil {
		return ErrBackendNotReady
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.buildKey(key)),
		Body:   data,
	})
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Load implements Backend.
func (b *S3Backend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if b.client == nil {
		return nil, ErrBackendNotReady
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.buildKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete implements Backend.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	if b.client == nil {
		return ErrBackendNotReady
	}

	exists, err := b.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return ErrKeyNotFound
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.buildKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Exists implements Backend.
func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	if b.client == nil {
		return false, ErrBackendNotReady
	}

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.buildKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return true, nil
}

// List implements Backend.
func (b *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if b.client == nil {
		return nil, ErrBackendNotReady
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.buildKey(prefix)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, b.stripPrefix(*obj.Key))
			}
		}
	}
	return keys, nil
}

// Close implements Backend.
func (b *S3Backend) Close() error {
	return nil
}

func (b *S3Backend) buildKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

func (b *S3Backend) stripPrefix(s3Key string) string {
	if b.prefix == "" {
		return s3Key
	}
	return strings.TrimPrefix(s3Key, b.prefix+"/")
}

// isS3NotFound matches the service's missing-object errors.
func isS3NotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") ||
		strings.Contains(msg, "NotFound") ||
		strings.Contains(msg, "404")
}
