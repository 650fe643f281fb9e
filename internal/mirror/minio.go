package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIO uploads final images to a MinIO bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIO connects to MinIO and creates the bucket if it does not exist.
func NewMinIO(ctx context.Context, opts Options) (*MinIO, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("minio make bucket %s: %w", opts.Bucket, err)
		}
		slog.Info("imagepick: mirror bucket created", "bucket", opts.Bucket)
	}
	return &MinIO{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

// Put uploads the file at path under key.
func (m *MinIO) Put(ctx context.Context, key, path string) error {
	object := objectKey(m.prefix, key)
	if _, err := m.client.FPutObject(ctx, m.bucket, object, path, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("minio put %s: %w", object, err)
	}
	return nil
}
