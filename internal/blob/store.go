// Package blob stores report attachments in an S3-compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxAttachmentSize caps a single upload.
const MaxAttachmentSize = 10 << 20

var (
	ErrTooLarge           = errors.New("attachment too large")
	ErrUnsupportedType    = errors.New("attachment type not allowed")
	ErrStorageUnavailable = errors.New("attachment storage not configured")
)

var allowedTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"text/plain":      ".txt",
	"video/mp4":       ".mp4",
	"audio/mpeg":      ".mp3",
}

// Config configures the object store connection.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// objectAPI is the subset of *minio.Client used here.
type objectAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
}

// Store uploads attachments and hands out time-limited download URLs.
type Store struct {
	client objectAPI
	bucket string
	expiry time.Duration
}

// Upload describes an incoming attachment.
type Upload struct {
	ReportID    string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, ErrStorageUnavailable
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	store := newStore(client, cfg.Bucket)
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	slog.Info("blob: attachment bucket ready", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return store, nil
}

func newStore(client objectAPI, bucket string) *Store {
	return &Store{client: client, bucket: bucket, expiry: 15 * time.Minute}
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// Put stores an attachment and returns its object key.
func (s *Store) Put(ctx context.Context, upload Upload) (string, error) {
	if s == nil {
		return "", ErrStorageUnavailable
	}
	if upload.Size > MaxAttachmentSize {
		return "", ErrTooLarge
	}
	contentType := normalizeContentType(upload.ContentType)
	ext, ok := allowedTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	key := ObjectKey(upload.ReportID, upload.Filename, ext)
	if _, err := s.client.PutObject(ctx, s.bucket, key, upload.Body, upload.Size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("put attachment: %w", err)
	}
	return key, nil
}

// PresignedURL returns a temporary download URL for an object key.
func (s *Store) PresignedURL(ctx context.Context, key string) (string, error) {
	if s == nil {
		return "", ErrStorageUnavailable
	}
	if key == "" {
		return "", nil
	}
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign attachment: %w", err)
	}
	return u.String(), nil
}

// Remove deletes an attachment. Missing keys are not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if s == nil || key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove attachment: %w", err)
	}
	return nil
}

// ObjectKey builds "reports/<id>/<name><ext>" from a client-supplied filename.
func ObjectKey(reportID, filename, ext string) string {
	base := strings.TrimSuffix(path.Base(strings.ReplaceAll(filename, "\\", "/")), path.Ext(filename))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '.':
			b.WriteByte('-')
		}
	}
	name := b.String()
	if name == "" {
		name = "attachment"
	}
	if len(name) > 80 {
		name = name[:80]
	}
	return "reports/" + reportID + "/" + name + ext
}

func normalizeContentType(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if idx := strings.Index(value, ";"); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	return value
}
