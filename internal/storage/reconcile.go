package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"manga-server/internal/models"
)

const prefixFanOut = 4

// Reconciler удаляет устаревшие префиксы и версии страниц.
type Reconciler struct {
	store  ObjectStore
	logger *zap.Logger
}

func NewReconciler(store ObjectStore, logger *zap.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger.Named("Reconciler")}
}

// DeletePrefix удаляет все версии всех объектов под префиксом.
func (r *Reconciler) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	dir, err := DirPrefix(prefix)
	if err != nil {
		return 0, err
	}
	log := r.logger.With(zap.String("prefix", dir))

	refs, err := r.store.ListVersions(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list versions under %s: %w", dir, err)
	}
	if len(refs) == 0 {
		log.Debug("Nothing to delete under prefix")
		return 0, nil
	}

	deleted, err := r.store.DeleteVersions(ctx, refs)
	if err != nil {
		log.Error("Prefix deletion incomplete", zap.Int("deleted", deleted), zap.Int("total", len(refs)), zap.Error(err))
		return deleted, fmt.Errorf("failed to delete prefix %s: %w", dir, err)
	}
	log.Info("Prefix deleted", zap.Int("versions", deleted))
	return deleted, nil
}

// DeletePrefixes удаляет несколько префиксов параллельно. Ошибка одного
// префикса не останавливает остальные.
func (r *Reconciler) DeletePrefixes(ctx context.Context, prefixes []string) (int, error) {
	var (
		total atomic.Int64
		mu    sync.Mutex
		errs  []error
		eg    errgroup.Group
	)
	eg.SetLimit(prefixFanOut)

	for _, prefix := range prefixes {
		eg.Go(func() error {
			n, err := r.DeletePrefix(ctx, prefix)
			total.Add(int64(n))
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return int(total.Load()), errors.Join(errs...)
}

// DeletePages удаляет все версии указанных страниц внутри префикса.
func (r *Reconciler) DeletePages(ctx context.Context, prefix string, pageIDs []string) (int, error) {
	if len(pageIDs) == 0 {
		return 0, nil
	}
	dir, err := DirPrefix(prefix)
	if err != nil {
		return 0, err
	}

	wanted := make(map[string]struct{}, len(pageIDs))
	for _, id := range pageIDs {
		wanted[models.PageObjectKey(dir, id)] = struct{}{}
	}

	refs, err := r.store.ListVersions(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list versions under %s: %w", dir, err)
	}
	targets := make([]VersionRef, 0, len(refs))
	for _, ref := range refs {
		if _, ok := wanted[ref.Key]; ok {
			targets = append(targets, ref)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	deleted, err := r.store.DeleteVersions(ctx, targets)
	if err != nil {
		return deleted, fmt.Errorf("failed to delete pages under %s: %w", dir, err)
	}
	r.logger.Info("Excess pages deleted",
		zap.String("prefix", dir),
		zap.Int("pages", len(pageIDs)),
		zap.Int("versions", deleted))
	return deleted, nil
}

// DeletePageVersions удаляет все версии ровно одной страницы.
func (r *Reconciler) DeletePageVersions(ctx context.Context, prefix, pageID string) (int, error) {
	key := models.PageObjectKey(prefix, pageID)
	refs, err := r.store.ListVersions(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to list versions of %s: %w", key, err)
	}
	refs = VersionsOfKey(refs, key)
	if len(refs) == 0 {
		return 0, nil
	}
	return r.store.DeleteVersions(ctx, refs)
}
