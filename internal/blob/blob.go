// Package blob wraps the S3 media bucket: source photo uploads, rendered
// video storage, artifact archives, and the presigned URLs handed to clients
// and publishers.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// PresignTTL is the lifetime of presigned URLs. Publishers fetch media well
// within this window; upload URLs expire before the run record does.
const PresignTTL = 15 * time.Minute

// Store is the S3-backed media store for one bucket.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// NewStore creates a Store for the given bucket.
func NewStore(client *s3.Client, bucket string) *Store {
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Get downloads an object into memory. Source photos are small enough that
// streaming to disk is not worth the temp-file handling.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket, Key: &key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int("bytes", len(data)).Msg("Object downloaded")
	return data, nil
}

// Put uploads in-memory bytes.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Debug().Str("key", key).Int("bytes", len(data)).Msg("Object uploaded")
	return nil
}

// PutFile uploads a local file, used for rendered videos which can be too
// large to hold in memory alongside the source images.
func (s *Store) PutFile(ctx context.Context, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Info().Str("key", key).Str("path", localPath).Msg("File uploaded")
	return nil
}

// PresignGet creates a presigned GET URL for publishers and status responses.
func (s *Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	result, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket, Key: &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject %s: %w", key, err)
	}
	return result.URL, nil
}

// PresignPut creates a presigned PUT URL so clients upload source photos
// directly to S3 instead of through the API Lambda.
func (s *Store) PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	result, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		ContentType: &contentType,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign PutObject %s: %w", key, err)
	}
	return result.URL, nil
}
