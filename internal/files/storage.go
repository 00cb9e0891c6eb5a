package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectStorage holds file bytes addressed by storage path.
type ObjectStorage interface {
	Upload(ctx context.Context, storagePath, contentType string, data []byte) error
	Download(ctx context.Context, storagePath string) (io.ReadCloser, string, error)
	SignedURL(ctx context.Context, storagePath string, ttl time.Duration) (string, error)
}

// S3API is the subset of the S3 client used by S3Storage.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Presigner is the subset of s3.PresignClient used by S3Storage.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Storage keeps result files in one bucket.
type S3Storage struct {
	bucket    string
	client    S3API
	presigner Presigner
}

var _ ObjectStorage = (*S3Storage)(nil)

func NewS3Storage(client S3API, presigner Presigner, bucket string) *S3Storage {
	return &S3Storage{bucket: bucket, client: client, presigner: presigner}
}

func (s *S3Storage) Upload(ctx context.Context, storagePath, contentType string, data []byte) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(storagePath),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("files: s3 put %s: %w", storagePath, err)
	}
	return nil
}

func (s *S3Storage) Download(ctx context.Context, storagePath string) (io.ReadCloser, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storagePath),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("files: s3 get %s: %w", storagePath, err)
	}
	return out.Body, aws.ToString(out.ContentType), nil
}

func (s *S3Storage) SignedURL(ctx context.Context, storagePath string, ttl time.Duration) (string, error) {
	if s.presigner == nil {
		return "", errors.New("files: presigner not configured")
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storagePath),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("files: presign %s: %w", storagePath, err)
	}
	return req.URL, nil
}
