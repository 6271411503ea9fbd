package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/feichai0017/book-harvester/config"
	"github.com/feichai0017/book-harvester/pkg/logger"
	"github.com/feichai0017/book-harvester/pkg/storage/minio"
	"github.com/feichai0017/book-harvester/pkg/storage/s3"
)

// ErrNotFound is returned when nothing exists under a requested key or prefix.
var ErrNotFound = errors.New("object not found")

// Storage moves book folders and harvested artifacts in and out of the bucket.
type Storage interface {
	// DownloadDirectory copies every object under prefix into destDir and
	// returns destDir.
	DownloadDirectory(ctx context.Context, prefix, destDir string) (string, error)
	UploadFile(ctx context.Context, localPath, key string) error
	// UploadDirectory replaces everything under prefix with the contents of localDir.
	UploadDirectory(ctx context.Context, localDir, prefix string) error
	Exists(ctx context.Context, key string) (bool, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// ObjectStore is the per-backend object API the Bucket is built on.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Walk calls fn for every object under prefix.
	Walk(ctx context.Context, prefix string, fn func(key string, modified time.Time) error) error
}

// NewStorage builds the configured backend.
func NewStorage(cfg *config.Config, log logger.Logger) (Storage, error) {
	var (
		store ObjectStore
		err   error
	)
	switch cfg.Storage.Backend {
	case config.BackendS3:
		store, err = s3.NewS3Storage(&cfg.S3, log)
	case config.BackendMinio:
		store, err = minio.NewMinioStorage(&cfg.Minio, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewBucket(store, cfg.Harvester.Concurrency, log), nil
}
