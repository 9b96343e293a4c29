package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"

	"github.com/pagemill/pagemill/config"
)

// MinioStore implements ObjectStore against any S3-compatible endpoint.
type MinioStore struct {
	client    *minio.Client
	bucket    string
	host      string
	uploadTTL time.Duration
}

// NewMinioStore connects to the configured S3 endpoint.
func NewMinioStore(serverConfig config.ServerConfig) (*MinioStore, error) {
	client, err := minio.New(serverConfig.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(serverConfig.S3AccessKey, serverConfig.S3SecretKey, ""),
		Secure: serverConfig.S3UseSSL,
		Region: serverConfig.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init S3 client: %w", err)
	}

	scheme := "http"
	if serverConfig.S3UseSSL {
		scheme = "https"
	}

	return &MinioStore{
		client:    client,
		bucket:    serverConfig.S3Bucket,
		host:      fmt.Sprintf("%s://%s", scheme, serverConfig.S3Endpoint),
		uploadTTL: time.Duration(serverConfig.UploadURLTTLMinutes) * time.Minute,
	}, nil
}

// Ping verifies the configured bucket exists and is reachable.
func (s *MinioStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

// NewUploadTarget allocates a file ID and presigns a PUT against its source slot.
func (s *MinioStore) NewUploadTarget(ctx context.Context) (string, string, error) {
	fileID := NewFileID()
	uploadURL, err := s.client.PresignedPutObject(ctx, s.bucket, SourceKey(fileID), s.uploadTTL)
	if err != nil {
		return "", "", fmt.Errorf("presign upload for %s: %w", fileID, err)
	}
	return fileID, uploadURL.String(), nil
}

// FetchSource downloads the uploaded PDF for a file ID.
func (s *MinioStore) FetchSource(ctx context.Context, fileID string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, SourceKey(fileID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get source for %s: %w", fileID, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read source for %s: %w", fileID, err)
	}
	return data, nil
}

// Exists stats the object without downloading the body.
func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		response := minio.ToErrorResponse(err)
		if response.Code == "NoSuchKey" || response.StatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// Put uploads the bytes to key. Concurrent identical writes are harmless
// because every key is derived from the content it holds.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// PublicURL builds the stable public URL for a stored key.
func (s *MinioStore) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.host, s.bucket, key)
}

// Tag attaches attributes to a stored object.
func (s *MinioStore) Tag(ctx context.Context, key string, attrs map[string]string) error {
	objectTags, err := tags.MapToObjectTags(attrs)
	if err != nil {
		return fmt.Errorf("build tags for %s: %w", key, err)
	}
	if err := s.client.PutObjectTagging(ctx, s.bucket, key, objectTags, minio.PutObjectTaggingOptions{}); err != nil {
		return fmt.Errorf("tag %s: %w", key, err)
	}
	return nil
}
