// Package storage deletes uploaded objects from the providers that hold them.
// Works with the Supabase Storage API, any S3-compatible endpoint (AWS,
// Garage, Cloudflare R2, MinIO, ...) and a local directory.
// Every backend reports an already-missing object as ErrObjectNotFound so the
// reconciler can count it as deleted.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/closeness/sweeper/internal/config"
)

// S3API is the subset of *s3.Client the store needs.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store wraps an S3 client for one bucket.
type S3Store struct {
	client S3API
	bucket string
}

// NewS3Store creates an S3Store from config and checks the bucket is reachable.
func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: cfg.ForcePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	store := NewS3StoreWithClient(s3.New(opts), cfg.Bucket)

	if _, err := store.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(store.bucket)}); err != nil {
		return nil, fmt.Errorf("storage: head bucket %s: %w", store.bucket, err)
	}
	return store, nil
}

// NewS3StoreWithClient wraps an existing client; no bucket check is made.
func NewS3StoreWithClient(client S3API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) Provider() string { return "s3" }

// DeleteObject removes an object. S3 itself answers 204 for missing keys;
// some compatible providers answer NoSuchKey instead.
func (s *S3Store) DeleteObject(ctx context.Context, key string) error {
	key, err := objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("storage: s3 delete: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}
