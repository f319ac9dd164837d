package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/princekumarofficial/channel-media-service/internal/config"
	"github.com/princekumarofficial/channel-media-service/internal/types"
)

var ErrInvalidKey = errors.New("invalid storage key")

// Store is the object storage capability used by the approval workflow.
// Keys have the form "<bucket>/<object>".
type Store interface {
	Put(ctx context.Context, kind types.MediaKind, fileName string, r io.Reader, size int64, contentType string) (string, error)
	PresignedGet(ctx context.Context, key string, expiry time.Duration) (*url.URL, error)
	Remove(ctx context.Context, key string) error
}

type Service struct {
	client  *minio.Client
	buckets map[types.MediaKind]string
}

var _ Store = (*Service)(nil)

// NewService creates a new object store service instance
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKeyID, cfg.MinIO.SecretAccessKey, ""),
		Secure: cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	service := &Service{
		client: client,
		buckets: map[types.MediaKind]string{
			types.MediaKindAudio: cfg.MinIO.AudioBucket,
			types.MediaKindPDF:   cfg.MinIO.PDFBucket,
		},
	}

	if err := service.EnsureBuckets(ctx); err != nil {
		return nil, err
	}
	return service, nil
}

// EnsureBuckets creates every per-kind bucket that doesn't exist yet
func (s *Service) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range s.buckets {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("failed to check if bucket %s exists: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// Ping reports whether the audio bucket is reachable.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.buckets[types.MediaKindAudio])
	return err
}

func (s *Service) Bucket(kind types.MediaKind) (string, bool) {
	b, ok := s.buckets[kind]
	return b, ok
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectName prefixes the sanitized base name of fileName with a fresh uuid.
func ObjectName(fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	base = strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "_")
	if base == "" || base == "." {
		base = "file"
	}
	return uuid.New().String() + "-" + base
}

func JoinKey(bucket, object string) string {
	return bucket + "/" + object
}

func SplitKey(key string) (bucket, object string, err error) {
	bucket, object, ok := strings.Cut(key, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return bucket, object, nil
}

// Put uploads r into the bucket for kind and returns the storage key.
func (s *Service) Put(ctx context.Context, kind types.MediaKind, fileName string, r io.Reader, size int64, contentType string) (string, error) {
	bucket, ok := s.buckets[kind]
	if !ok {
		return "", fmt.Errorf("no bucket configured for %q", kind)
	}

	object := ObjectName(fileName)
	_, err := s.client.PutObject(ctx, bucket, object, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", object, err)
	}
	return JoinKey(bucket, object), nil
}

// PresignedGet creates a presigned URL for downloading
func (s *Service) PresignedGet(ctx context.Context, key string, expiry time.Duration) (*url.URL, error) {
	bucket, object, err := SplitKey(key)
	if err != nil {
		return nil, err
	}
	return s.client.PresignedGetObject(ctx, bucket, object, expiry, nil)
}

// Remove removes an object from storage
func (s *Service) Remove(ctx context.Context, key string) error {
	bucket, object, err := SplitKey(key)
	if err != nil {
		return err
	}
	return s.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{})
}

// Stat returns information about an object
func (s *Service) Stat(ctx context.Context, key string) (minio.ObjectInfo, error) {
	bucket, object, err := SplitKey(key)
	if err != nil {
		return minio.ObjectInfo{}, err
	}
	return s.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
}

// ListObjects lists every stored object of kind
func (s *Service) ListObjects(ctx context.Context, kind types.MediaKind) ([]minio.ObjectInfo, error) {
	bucket, ok := s.buckets[kind]
	if !ok {
		return nil, fmt.Errorf("no bucket configured for %q", kind)
	}

	var objects []minio.ObjectInfo
	for object := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			return nil, object.Err
		}
		objects = append(objects, object)
	}
	return objects, nil
}
