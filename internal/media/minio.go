package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tonero-cloud/safeguard/internal/models"
)

// MinioAPI is the subset of the MinIO client we use.
type MinioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioStore uploads captures to a MinIO (or any S3-compatible) server.
type MinioStore struct {
	Client    MinioAPI
	Bucket    string
	Prefix    string
	PublicURL string
}

// NewMinioStore connects to cfg.Endpoint and creates the bucket if missing.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio media store needs an endpoint and a bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	s := &MinioStore{Client: client, Bucket: cfg.Bucket, Prefix: cfg.Prefix, PublicURL: publicURL}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.Client.BucketExists(ctx, s.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.Client.MakeBucket(ctx, s.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.Bucket, err)
	}
	slog.Info("created media bucket", "bucket", s.Bucket)
	return nil
}

func (s *MinioStore) Put(ctx context.Context, localURI string, kind models.ReportType) (string, error) {
	f, size, err := openBlob(localURI)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := objectKey(s.Prefix, kind, f.Name())
	_, err = s.Client.PutObject(ctx, s.Bucket, key, f, size, minio.PutObjectOptions{
		ContentType: contentType(kind, f.Name()),
	})
	if err != nil {
		return "", fmt.Errorf("minio put %s: %w", key, err)
	}
	return strings.TrimRight(s.PublicURL, "/") + "/" + key, nil
}
