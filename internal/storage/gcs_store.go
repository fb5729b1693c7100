package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
)

const (
	uploadMaxRetries   = 4
	uploadInitialDelay = time.Second
	uploadWriteTimeout = 50 * time.Second
	pageCacheControl   = "public, max-age=31536000, immutable"
)

// GCSStore хранит страницы в бакете Google Cloud Storage с включенным версионированием.
type GCSStore struct {
	bucket      *storage.BucketHandle
	bucketName  string
	concurrency int
	logger      *zap.Logger
}

var _ ObjectStore = (*GCSStore)(nil)

// NewGCSStore создает хранилище поверх готового клиента.
func NewGCSStore(client *storage.Client, bucketName string, concurrency int, logger *zap.Logger) *GCSStore {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &GCSStore{
		bucket:      client.Bucket(bucketName),
		bucketName:  bucketName,
		concurrency: concurrency,
		logger:      logger.Named("GCSStore"),
	}
}

// PutObject загружает объект с повторами и экспоненциальной задержкой.
func (s *GCSStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	log := s.logger.With(zap.String("bucket", s.bucketName), zap.String("key", key))
	backoff := uploadInitialDelay
	var lastErr error

	for attempt := 1; attempt <= uploadMaxRetries; attempt++ {
		err := s.writeOnce(ctx, key, data, contentType)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == uploadMaxRetries {
			break
		}

		log.Warn("Upload failed, will retry",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return fmt.Errorf("upload of %s aborted: %w", key, ctx.Err())
		}
	}

	log.Error("Upload failed after all retries", zap.Error(lastErr))
	return fmt.Errorf("upload of %s failed after %d attempts: %w", key, uploadMaxRetries, lastErr)
}

func (s *GCSStore) writeOnce(ctx context.Context, key string, data []byte, contentType string) error {
	writeCtx, cancel := context.WithTimeout(ctx, uploadWriteTimeout)
	defer cancel()

	w := s.bucket.Object(key).NewWriter(writeCtx)
	w.ContentType = contentType
	w.CacheControl = pageCacheControl

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS upload: %w", err)
	}
	return nil
}

// ListVersions перечисляет все поколения объектов с префиксом.
func (s *GCSStore) ListVersions(ctx context.Context, keyPrefix string) ([]VersionRef, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: keyPrefix, Versions: true})

	var refs []VersionRef
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %q: %w", keyPrefix, err)
		}
		refs = append(refs, VersionRef{
			Key:        attrs.Name,
			Generation: attrs.Generation,
			Current:    attrs.Deleted.IsZero(),
			Size:       attrs.Size,
		})
	}
	return refs, nil
}

// DeleteVersions удаляет поколения параллельно. Уже отсутствующие
// поколения не считаются ошибкой.
func (s *GCSStore) DeleteVersions(ctx context.Context, refs []VersionRef) (int, error) {
	var deleted atomic.Int64
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)

	for _, ref := range refs {
		eg.Go(func() error {
			err := s.bucket.Object(ref.Key).Generation(ref.Generation).Delete(gctx)
			switch {
			case err == nil:
				deleted.Add(1)
				return nil
			case errors.Is(err, storage.ErrObjectNotExist):
				return nil
			default:
				return fmt.Errorf("failed to delete %s#%d: %w", ref.Key, ref.Generation, err)
			}
		})
	}

	err := eg.Wait()
	return int(deleted.Load()), err
}
