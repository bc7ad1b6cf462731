package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/freedevtools/fdtdb/models"
)

// ErrUploadDisabled is returned when no bucket is configured.
var ErrUploadDisabled = errors.New("upload is not configured")

const sqliteContentType = "application/vnd.sqlite3"

// Uploader copies published generations to an S3-compatible bucket.
type Uploader struct {
	mc     *minio.Client
	bucket string
	prefix string
}

// NewUploader creates a client for cfg. It does not contact the endpoint.
func NewUploader(cfg models.UploadConfig) (*Uploader, error) {
	if !cfg.Enabled() {
		return nil, ErrUploadDisabled
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Uploader{mc: mc, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// ObjectName is where file lands in the bucket.
func (u *Uploader) ObjectName(file string) string {
	return path.Join(u.prefix, file)
}

// Upload sends a published generation and records the location in the
// manifest. Unpublished generations are refused.
func (u *Uploader) Upload(ctx context.Context, s *Store, domain string, n int) (string, error) {
	p, err := s.Published(domain, n)
	if err != nil {
		return "", err
	}
	if err := s.Verify(domain, n); err != nil {
		return "", err
	}

	exists, err := u.mc.BucketExists(ctx, u.bucket)
	if err != nil {
		return "", fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if !exists {
		return "", fmt.Errorf("bucket %s does not exist", u.bucket)
	}

	object := u.ObjectName(p.File)
	info, err := u.mc.FPutObject(ctx, u.bucket, object, s.Path(p.File), minio.PutObjectOptions{
		ContentType:  sqliteContentType,
		UserMetadata: map[string]string{"sha256": p.SHA256},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", u.bucket, object, err)
	}

	location := fmt.Sprintf("s3://%s/%s", u.bucket, object)
	if err := s.MarkUploaded(domain, n, location); err != nil {
		return "", err
	}
	slog.Info("generation uploaded", "location", location, "size", info.Size, "etag", info.ETag)
	return location, nil
}
