package store

import (
	"context"
	"fmt"
	"io"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSBackend stores hook definitions as objects in a Google Cloud Storage
// bucket.
type GCSBackend struct {
	client *gcstorage.Client
	bucket string
	prefix string
}

// NewGCSBackend creates an uninitialized GCS backend.
func NewGCSBackend() *GCSBackend {
	return &GCSBackend{}
}

// Init implements Backend. Recognized keys: bucket (required), prefix,
// keyFile, emulatorHost.
func (b *GCSBackend) Init(config map[string]interface{}) error {
	bucket, _ := config["bucket"].(string)
	if bucket == "" {
		return fmt.Errorf("%w: bucket is required for the gcs backend", ErrInvalidConfig)
	}
	b.bucket = bucket

	if prefix, ok := config["prefix"].(string); ok {
		b.prefix = strings.TrimSuffix(prefix, "/")
	}

	var opts []option.ClientOption
	if emulatorHost, ok := config["emulatorHost"].(string); ok && emulatorHost != "" {
		opts = append(opts,
			option.WithEndpoint(fmt.Sprintf("http://%s/storage/v1/", emulatorHost)),
			option.WithoutAuthentication(),
		)
	} else if keyFile, ok := config["keyFile"].(string); ok && keyFile != "" {
		opts = append(opts, option.WithCredentialsFile(keyFile))
	}

	client, err := gcstorage.NewClient(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("failed to create gcs client: %w", err)
	}
	b.client = client
	return nil
}

// Save implements Backend.
func (b *GCSBackend) Save(ctx context.Context, key string, data io.Reader) error {
	if b.client == nil {
		return ErrBackendNotReady
	}

	writer := b.object(key).NewWriter(ctx)
	if _, err := io.Copy(writer, data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// Load implements Backend.
func (b *GCSBackend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if b.client == nil {
		return nil, ErrBackendNotReady
	}

	reader, err := b.object(key).NewReader(ctx)
	if err != nil {
		if err == gcstorage.ErrObjectNotExist {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return reader, nil
}

// Delete implements Backend.
func (b *GCSBackend) Delete(ctx context.Context, key string) error {
	if b.client == nil {
		return ErrBackendNotReady
	}

	if err := b.object(key).Delete(ctx); err != nil {
		if err == gcstorage.ErrObjectNotExist {
			return ErrKeyNotFound
		}
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Exists implements Backend.
func (b *GCSBackend) Exists(ctx context.Context, key string) (bool, error) {
	if b.client == nil {
		return false, ErrBackendNotReady
	}

	_, err := b.object(key).Attrs(ctx)
	if err != nil {
		if err == gcstorage.ErrObjectNotExist {
			return false, nil
		}
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return true, nil
}

// List implements Backend.
func (b *GCSBackend) List(ctx context.Context, prefix string) ([]string, error) {
	if b.client == nil {
		return nil, ErrBackendNotReady
	}

	var keys []string
	it := b.client.Bucket(b.bucket).Objects(ctx, &gcstorage.Query{
		Prefix: b.buildKey(prefix),
	})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		keys = append(keys, b.stripPrefix(attrs.Name))
	}
	return keys, nil
}

// Close implements Backend.
func (b *GCSBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func (b *GCSBackend) object(key string) *gcstorage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(b.buildKey(key))
}

func (b *GCSBackend) buildKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

func (b *GCSBackend) stripPrefix(gcsKey string) string {
	if b.prefix == "" {
		return gcsKey
	}
	return strings.TrimPrefix(gcsKey, b.prefix+"/")
}
