// Package objectstore выдаёт подписанные ссылки на файлы в объектном хранилище.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// S3Config: параметры S3-совместимого хранилища.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// Region обязателен: без него подпись требует сетевого запроса за регионом бакета.
	Region string
	UseSSL bool
}

// S3Signer подписывает GET-ссылки через minio-go.
type S3Signer struct {
	client *minio.Client
	bucket string
}

// NewS3Signer создаёт клиента хранилища.
func NewS3Signer(cfg S3Config) (*S3Signer, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("object storage endpoint and bucket are required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &S3Signer{client: client, bucket: cfg.Bucket}, nil
}

// SignedURL возвращает presigned GET-ссылку на объект key.
func (s *S3Signer) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", errors.New("object key is required")
	}
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// BucketExists проверяет доступность бакета (readiness).
func (s *S3Signer) BucketExists(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

var _ domain.ObjectSigner = (*S3Signer)(nil)
