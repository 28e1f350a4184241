package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"mail-ingest/internal/shared/storage/object"
)

const defaultPresignTTL = 7 * 24 * time.Hour

// Options configures the S3 store. Endpoint and static keys are set for S3-compatible
// providers such as Cloudflare R2; on AWS both stay empty and the default chain is used.
type Options struct {
	Region        string
	Bucket        string
	Prefix        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
	KMSKeyID      string
	PublicBaseURL string
	PresignTTL    time.Duration
}

// Store implements object.Store using Amazon S3 or an S3-compatible endpoint.
type Store struct {
	client        *s3.Client
	presign       *s3.PresignClient
	bucket        string
	prefix        string
	kmsKeyID      string
	nativeAWS     bool
	publicBaseURL string
	presignTTL    time.Duration
}

// New creates a new S3-backed object store.
func New(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	region := strings.TrimSpace(opts.Region)
	if region == "" && opts.Endpoint != "" {
		region = "auto"
	}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	ttl := opts.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &Store{
		client:        client,
		presign:       s3.NewPresignClient(client),
		bucket:        opts.Bucket,
		prefix:        normalizePrefix(opts.Prefix),
		kmsKeyID:      strings.TrimSpace(opts.KMSKeyID),
		nativeAWS:     endpoint == "",
		publicBaseURL: opts.PublicBaseURL,
		presignTTL:    ttl,
	}, nil
}

// Upload puts the payload under its generated key and returns a public or presigned URL.
func (s *Store) Upload(ctx context.Context, in object.UploadInput) (object.Stored, error) {
	if err := ctx.Err(); err != nil {
		return object.Stored{}, err
	}
	storageKey, err := object.BuildKey(in)
	if err != nil {
		return object.Stored{}, err
	}
	objectKey := applyPrefix(s.prefix, storageKey)
	mimeType := object.ContentType(in)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(in.Data),
		ContentLength: aws.Int64(int64(len(in.Data))),
		ContentType:   aws.String(mimeType),
	}
	switch {
	case s.kmsKeyID != "":
		input.ServerSideEncryption = s3types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(s.kmsKeyID)
	case s.nativeAWS:
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return object.Stored{}, fmt.Errorf("s3 put object bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}

	url := object.PublicURL(s.publicBaseURL, objectKey)
	if url == "" {
		req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectKey),
		}, s3.WithPresignExpires(s.presignTTL))
		if err != nil {
			return object.Stored{}, fmt.Errorf("s3 presign key=%s: %w", objectKey, err)
		}
		url = req.URL
	}

	return object.Stored{
		Key:      storageKey,
		URL:      url,
		Size:     int64(len(in.Data)),
		MimeType: mimeType,
	}, nil
}

// Open downloads a stored object for reading.
func (s *Store) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	objectKey := applyPrefix(s.prefix, storageKey)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get object bucket=%s key=%s: %w", s.bucket, objectKey, err)
	}
	return out.Body, nil
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

func applyPrefix(prefix, key string) string {
	cleanPrefix := strings.Trim(prefix, "/")
	cleanKey := strings.TrimLeft(key, "/")
	if cleanPrefix == "" {
		return cleanKey
	}
	if cleanKey == "" {
		return cleanPrefix
	}
	return cleanPrefix + "/" + cleanKey
}

var _ object.Store = (*Store)(nil)
