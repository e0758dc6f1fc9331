package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tonero-cloud/safeguard/internal/models"
)

// S3ClientAPI is the subset of the S3 client we use.
type S3ClientAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads captures to an S3 bucket.
type S3Store struct {
	Client    S3ClientAPI
	Bucket    string
	Prefix    string
	PublicURL string
}

// NewS3Store uses the default AWS credential chain.
func NewS3Store(ctx context.Context, bucket, prefix, publicURL string) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 media store needs a bucket")
	}
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &S3Store{
		Client:    s3.NewFromConfig(cfg),
		Bucket:    bucket,
		Prefix:    prefix,
		PublicURL: publicURL,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, localURI string, kind models.ReportType) (string, error) {
	f, size, err := openBlob(localURI)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := objectKey(s.Prefix, kind, f.Name())
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType(kind, f.Name())),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}

	if s.PublicURL != "" {
		return strings.TrimRight(s.PublicURL, "/") + "/" + key, nil
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.Bucket, key), nil
}
