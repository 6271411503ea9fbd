package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/book-harvester/pkg/logger"
)

// Bucket implements Storage on top of an ObjectStore, transferring files
// with bounded parallelism.
type Bucket struct {
	store       ObjectStore
	concurrency int
	logger      logger.Logger
}

func NewBucket(store ObjectStore, concurrency int, log logger.Logger) *Bucket {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Bucket{store: store, concurrency: concurrency, logger: log}
}

func dirPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func (b *Bucket) keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.store.Walk(ctx, prefix, func(key string, _ time.Time) error {
		if !strings.HasSuffix(key, "/") {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return keys, nil
}

func (b *Bucket) DownloadDirectory(ctx context.Context, prefix, destDir string) (string, error) {
	prefix = dirPrefix(prefix)
	keys, err := b.keys(ctx, prefix)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("nothing stored under %q: %w", prefix, ErrNotFound)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			rel := strings.TrimPrefix(key, prefix)
			local := filepath.Join(destDir, filepath.FromSlash(rel))
			if !strings.HasPrefix(local, filepath.Clean(destDir)+string(filepath.Separator)) {
				return fmt.Errorf("refusing to write %s outside %s", key, destDir)
			}
			return b.download(ctx, key, local)
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	b.logger.Debug("downloaded directory",
		logger.String("prefix", prefix),
		logger.Int("files", len(keys)))
	return destDir, nil
}

func (b *Bucket) download(ctx context.Context, key, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	body, err := b.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer body.Close()

	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", local, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("failed to download %s: %w", key, err)
	}
	return f.Close()
}

func (b *Bucket) UploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := b.store.Put(ctx, key, f, info.Size(), contentType); err != nil {
		b.logger.Error("Failed to upload file",
			logger.String("key", key),
			logger.Error(err))
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (b *Bucket) UploadDirectory(ctx context.Context, localDir, prefix string) error {
	prefix = dirPrefix(prefix)
	if prefix == "" {
		return fmt.Errorf("refusing to replace the bucket root")
	}
	if err := b.DeletePrefix(ctx, prefix); err != nil {
		return err
	}

	var files []string
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", localDir, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, file := range files {
		g.Go(func() error {
			rel, err := filepath.Rel(localDir, file)
			if err != nil {
				return err
			}
			return b.UploadFile(ctx, file, prefix+filepath.ToSlash(rel))
		})
	}
	return g.Wait()
}

func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	return b.store.Exists(ctx, key)
}

func (b *Bucket) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := b.keys(ctx, prefix)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			if err := b.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to delete %s: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// KeyFromURL turns a book's base URL into an object key prefix. Path-style
// URLs that start with the bucket name have it removed; a bare key is
// returned unchanged apart from a trailing slash.
func KeyFromURL(baseURL, bucket string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	p := strings.TrimPrefix(path.Clean("/"+u.Path), "/")
	if bucket != "" && !strings.HasPrefix(u.Host, bucket+".") {
		if p == bucket {
			p = ""
		}
		p = strings.TrimPrefix(p, bucket+"/")
	}
	if p == "" || p == "." {
		return "", fmt.Errorf("base url %q names no folder: %w", baseURL, ErrNotFound)
	}
	return p + "/", nil
}
