// Package blob stores uploaded files (avatars and attachments) in an
// S3-compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"council/api/internal/util"
)

const (
	MaxAvatarBytes     = 5 << 20
	MaxAttachmentBytes = 25 << 20
)

var (
	ErrTooLarge    = errors.New("file too large")
	ErrNotAnImage  = errors.New("file must be an image")
	ErrEmptyUpload = errors.New("file is empty")
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL overrides the scheme://endpoint prefix of returned object URLs.
	PublicURL string
}

// Store writes objects to a single bucket.
type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + cfg.Endpoint
	}
	return &Store{client: client, bucket: cfg.Bucket, publicURL: publicURL}, nil
}

// Put uploads r under prefix and returns the object's public URL.
func (s *Store) Put(ctx context.Context, prefix, filename, contentType string, size int64, r io.Reader) (string, error) {
	key := ObjectKey(prefix, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return s.publicURL + "/" + s.bucket + "/" + key, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("ping bucket: %w", err)
	}
	return nil
}

// ObjectKey builds a collision-free key that keeps the original extension.
func ObjectKey(prefix, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	if len(ext) > 10 {
		ext = ""
	}
	return strings.Trim(prefix, "/") + "/" + util.NewID("") + ext
}

// ValidateAvatar enforces the image type and size limits for profile pictures.
func ValidateAvatar(contentType string, size int64) error {
	if size <= 0 {
		return ErrEmptyUpload
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return ErrNotAnImage
	}
	if size > MaxAvatarBytes {
		return ErrTooLarge
	}
	return nil
}

func ValidateAttachment(size int64) error {
	if size <= 0 {
		return ErrEmptyUpload
	}
	if size > MaxAttachmentBytes {
		return ErrTooLarge
	}
	return nil
}
