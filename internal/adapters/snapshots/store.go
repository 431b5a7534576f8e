// Package snapshots archives rendered pages in an S3-compatible bucket.
package snapshots

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pageaudit/internal/ports"
)

const (
	DefaultBucket = "pageaudit-snapshots"
	contentType   = "text/html; charset=utf-8"
)

// Config addresses the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New connects to the endpoint and creates the bucket when it is missing.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("snapshot endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot client: %w", err)
	}
	s := &Store{client: client, bucket: cfg.Bucket, logger: slog.Default()}
	if s.bucket == "" {
		s.bucket = DefaultBucket
	}
	for _, opt := range opts {
		opt(s)
	}

	exists, err := client.BucketExists(ctx, s.bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
		s.logger.Info("snapshot bucket created", "bucket", s.bucket)
	}
	return s, nil
}

func objectName(auditID string) string {
	return "audits/" + auditID + "/page.html"
}

func (s *Store) PutSnapshot(ctx context.Context, auditID string, html []byte) (string, error) {
	name := objectName(auditID)
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(html), int64(len(html)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put snapshot %s: %w", name, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, name), nil
}

func (s *Store) GetSnapshot(ctx context.Context, auditID string) ([]byte, error) {
	name := objectName(auditID)
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", name, err)
	}
	defer obj.Close()
	// GetObject is lazy; a missing key surfaces on the first read
	html, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("snapshot of %s: %w", auditID, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("read snapshot %s: %w", name, err)
	}
	return html, nil
}
