// Package mirror copies final images to object storage.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anatolykoptev/go-imagepick"
)

const contentType = "image/jpeg"

// Options select and configure a backend.
type Options struct {
	Backend   string // "minio" or "s3"; empty disables mirroring
	Endpoint  string // host:port for MinIO, URL for S3-compatible services
	Bucket    string
	Prefix    string // prepended to every object key
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown mirror backend")

// New builds the configured backend, or returns nil when mirroring is off.
func New(ctx context.Context, opts Options) (imagepick.Mirror, error) {
	if opts.Bucket == "" && opts.Backend != "" {
		return nil, fmt.Errorf("mirror %s: bucket is required", opts.Backend)
	}
	switch strings.ToLower(opts.Backend) {
	case "":
		return nil, nil
	case "minio":
		return NewMinIO(ctx, opts)
	case "s3":
		return NewS3(ctx, opts)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
}

func objectKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}
