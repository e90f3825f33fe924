package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	internalConfig "github.com/churchapp/notifications/internal/config"
)

const keyPrefix = "notifications/"

// ObjectAPI is the subset of the S3 client used for notification images
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Storage struct {
	client    ObjectAPI
	bucket    string
	publicURL string
}

// NewS3Storage creates a new S3/R2 storage provider
func NewS3Storage(ctx context.Context, cfg internalConfig.StorageConfig) (*S3Storage, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3StorageWithClient(client, cfg.Bucket, cfg.PublicURL), nil
}

// NewS3StorageWithClient wraps an existing client
func NewS3StorageWithClient(client ObjectAPI, bucket, publicURL string) *S3Storage {
	return &S3Storage{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// SaveFile uploads an image to R2/S3
func (s *S3Storage) SaveFile(ctx context.Context, file io.Reader, filename string, contentType string) (string, error) {
	ext, err := ImageExtension(contentType)
	if err != nil {
		return "", err
	}

	// Organised by month: notifications/2006/01/uuid.ext
	key := fmt.Sprintf("%s%s/%s%s", keyPrefix, time.Now().UTC().Format("2006/01"), uuid.New().String(), ext)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file to S3: %w", err)
	}

	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s", s.publicURL, key), nil
	}
	return key, nil
}

// DeleteFile deletes an uploaded image given its public URL or key
func (s *S3Storage) DeleteFile(ctx context.Context, fileURL string) error {
	key := s.keyFromURL(fileURL)
	if !strings.HasPrefix(key, keyPrefix) {
		return nil // Not ours
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}
	return nil
}

func (s *S3Storage) keyFromURL(fileURL string) string {
	if s.publicURL != "" && strings.HasPrefix(fileURL, s.publicURL+"/") {
		return strings.TrimPrefix(fileURL, s.publicURL+"/")
	}
	return fileURL
}
