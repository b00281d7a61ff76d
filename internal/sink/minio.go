package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/nardellimar25/vsg-gateway/internal/logger"
)

// MinioConfig configures an S3-compatible object store.
type MinioConfig struct {
	Endpoint  string // host:port
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string // prepended to every key
	UseSSL    bool
	Region    string
}

// MinioStore writes objects to an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore connects to the endpoint and creates the bucket if needed.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("sink: create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("sink: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("sink: create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("Sink", "Created bucket %s", cfg.Bucket)
	}

	logger.Info("Sink", "Object store ready (endpoint=%s bucket=%s ssl=%v)", cfg.Endpoint, cfg.Bucket, cfg.UseSSL)
	return &MinioStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// ObjectKey maps a store key to an object name.
func (s *MinioStore) ObjectKey(key string) string {
	return objectKey(s.prefix, key)
}

func objectKey(prefix, key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	return strings.TrimPrefix(path.Join(prefix, key), "/")
}

// Put implements Store.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.ObjectKey(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("sink: put %s: %w", key, err)
	}
	return nil
}

// Name implements Store.
func (s *MinioStore) Name() string { return "minio" }
