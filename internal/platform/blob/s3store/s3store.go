// Package s3store stores report files in an S3 bucket.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/phrazzld/report-api/internal/blob"
	"github.com/phrazzld/report-api/internal/domain"
)

// API is the subset of the S3 client the store uses.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store keeps objects in one bucket, keyed by blob.BuildKey.
type Store struct {
	client API
	bucket string
}

var _ blob.Store = (*Store)(nil)

// New loads the default AWS configuration chain and returns a store for bucket.
func New(ctx context.Context, bucket, region string) (*Store, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewWithClient(s3.NewFromConfig(cfg), bucket), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Put implements blob.Store.
func (s *Store) Put(ctx context.Context, data []byte, hints blob.KeyHints) (blob.Object, error) {
	key := blob.BuildKey(hints)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(hints.Format)),
	})
	if err != nil {
		return blob.Object{}, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return blob.Object{
		Key:  key,
		URL:  fmt.Sprintf("s3://%s/%s", s.bucket, key),
		Size: int64(len(data)),
	}, nil
}

// Get implements blob.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := blob.ValidateReference(key); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %s", blob.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Delete implements blob.Store. S3 treats deleting a missing key as success.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := blob.ValidateReference(key); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func contentType(f domain.Format) string {
	if f == "" {
		return "application/octet-stream"
	}
	return f.ContentType()
}
