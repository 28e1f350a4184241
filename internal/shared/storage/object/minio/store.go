package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"mail-ingest/internal/shared/storage/object"
)

// Store implements object.Store for MinIO and other S3-compatible servers.
type Store struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	presignTTL    time.Duration
}

// New connects to the endpoint and ensures the bucket exists. The endpoint may carry an
// http:// or https:// scheme; without one TLS is assumed.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket, publicBaseURL string) (*Store, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	host, secure, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(checkCtx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &Store{
		client:        client,
		bucket:        bucket,
		publicBaseURL: publicBaseURL,
		presignTTL:    7 * 24 * time.Hour,
	}, nil
}

// Upload puts the payload under its generated key.
func (s *Store) Upload(ctx context.Context, in object.UploadInput) (object.Stored, error) {
	key, err := object.BuildKey(in)
	if err != nil {
		return object.Stored{}, err
	}
	mimeType := object.ContentType(in)
	size := int64(len(in.Data))
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(in.Data), size, minio.PutObjectOptions{ContentType: mimeType}); err != nil {
		return object.Stored{}, fmt.Errorf("put object: %w", err)
	}

	link := object.PublicURL(s.publicBaseURL, key)
	if link == "" {
		u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignTTL, nil)
		if err != nil {
			return object.Stored{}, fmt.Errorf("presign get: %w", err)
		}
		link = u.String()
	}
	return object.Stored{Key: key, URL: link, Size: size, MimeType: mimeType}, nil
}

// Open streams a stored object.
func (s *Store) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, storageKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}

func splitEndpoint(endpoint string) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, fmt.Errorf("minio endpoint is required")
	}
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), true, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse minio endpoint: %w", err)
	}
	return u.Host, u.Scheme == "https", nil
}

var _ object.Store = (*Store)(nil)
