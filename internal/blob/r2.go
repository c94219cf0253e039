package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// R2Config carries the Cloudflare R2 connection settings, normally read
// from R2_* environment variables.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// EndpointURL overrides the default https://<account>.r2.cloudflarestorage.com.
	EndpointURL string
}

// Enabled reports whether enough settings are present to build a client.
func (c R2Config) Enabled() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != "" && (c.AccountID != "" || c.EndpointURL != "")
}

func (c R2Config) endpoint() string {
	if c.EndpointURL != "" {
		return c.EndpointURL
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.AccountID)
}

type r2Store struct {
	client *minio.Client
	bucket string
	log    *zap.SugaredLogger
}

// NewR2Store builds a Store backed by an R2 bucket.
func NewR2Store(cfg R2Config) (Store, error) {
	if !cfg.Enabled() {
		return nil, errors.New("r2 storage not configured")
	}
	endpoint, err := url.Parse(cfg.endpoint())
	if err != nil {
		return nil, fmt.Errorf("invalid R2 endpoint: %w", err)
	}
	client, err := minio.New(endpoint.Host, &minio.Options{
		Creds: credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		// R2 uses "auto" as its region.
		Region: "auto",
		Secure: endpoint.Scheme != "http",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize R2 client: %w", err)
	}
	return &r2Store{
		client: client,
		bucket: cfg.Bucket,
		log:    zap.S().Named("blob.r2"),
	}, nil
}

func (s *r2Store) Put(ctx context.Context, storageKey string, localPath string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, storageKey, localPath, minio.PutObjectOptions{
		ContentType: contentTypeFor(storageKey),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", storageKey, err)
	}
	s.log.Infow("uploaded object", "key", storageKey)
	return nil
}

func (s *r2Store) Delete(ctx context.Context, storageKey string) error {
	err := s.client.RemoveObject(ctx, s.bucket, storageKey, minio.RemoveObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			s.log.Infow("object already absent", "key", storageKey)
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", storageKey, err)
	}
	s.log.Infow("deleted object", "key", storageKey)
	return nil
}

func (s *r2Store) Exists(ctx context.Context, storageKey string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, storageKey, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *r2Store) Size(ctx context.Context, storageKey string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, storageKey, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size, nil
}

func (s *r2Store) PresignedURL(ctx context.Context, storageKey string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, storageKey, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", storageKey, err)
	}
	return u.String(), nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.StatusCode == 404
}

func contentTypeFor(storageKey string) string {
	switch {
	case strings.HasSuffix(storageKey, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(storageKey, ".webm"):
		return "video/webm"
	default:
		return "video/mp4"
	}
}
