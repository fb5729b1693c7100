package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"manga-server/internal/repository"
	"manga-server/internal/storage"
	"manga-server/pkg/taskmanager"
)

const (
	TaskTypeDraftReap = "draft-reap"
	draftReapKey      = "drafts:reap"
)

// DraftReaper удаляет из хранилища префиксы брошенных черновиков.
// Префикс, ставший опубликованным префиксом главы, не трогается.
type DraftReaper struct {
	drafts     repository.DraftRepository
	chapters   repository.ChapterRepository
	reconciler *storage.Reconciler
	tasks      taskmanager.ITaskManager
	grace      time.Duration
	batch      int
	logger     *zap.Logger
	now        func() time.Time
}

// DraftReaperConfig - параметры уборки.
type DraftReaperConfig struct {
	// Grace - сколько префикс ждет после истечения черновика.
	Grace time.Duration
	Batch int
	// Now должен совпадать с часами хранилища черновиков. По умолчанию time.Now.
	Now func() time.Time
}

func NewDraftReaper(
	drafts repository.DraftRepository,
	chapters repository.ChapterRepository,
	reconciler *storage.Reconciler,
	tasks taskmanager.ITaskManager,
	cfg DraftReaperConfig,
	logger *zap.Logger,
) *DraftReaper {
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DraftReaper{
		drafts:     drafts,
		chapters:   chapters,
		reconciler: reconciler,
		tasks:      tasks,
		grace:      cfg.Grace,
		batch:      cfg.Batch,
		logger:     logger.Named("DraftReaper"),
		now:        cfg.Now,
	}
}

// Run запускает уборку по таймеру до отмены ctx. Если предыдущий проход
// еще идет, очередной тик пропускается.
func (r *DraftReaper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		r.logger.Info("Draft reaper disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Schedule(ctx); err != nil && !errors.Is(err, taskmanager.ErrResourceBusy) {
				r.logger.Warn("Failed to schedule draft reap", zap.Error(err))
			}
		}
	}
}

// Schedule ставит один проход уборки фоновой задачей.
func (r *DraftReaper) Schedule(ctx context.Context) (uuid.UUID, error) {
	return r.tasks.SubmitExclusive(ctx, TaskTypeDraftReap, draftReapKey, func(ctx context.Context) error {
		_, err := r.ReapOnce(ctx)
		return err
	})
}

// ReapOnce удаляет одну пачку истекших префиксов и возвращает число
// убранных. Префикс, который не удалось удалить, остается в индексе
// до следующего прохода.
func (r *DraftReaper) ReapOnce(ctx context.Context) (int, error) {
	before := r.now().Add(-r.grace)
	prefixes, err := r.drafts.ExpiredPrefixes(ctx, before, r.batch)
	if err != nil {
		return 0, err
	}
	if len(prefixes) == 0 {
		return 0, nil
	}

	reaped := 0
	var errs []error
	for _, prefix := range prefixes {
		log := r.logger.With(zap.String("pagesPrefix", prefix))

		published, err := r.chapters.IsPrefixPublished(ctx, prefix)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !published {
			if _, err := r.reconciler.DeletePrefix(ctx, prefix); err != nil && !errors.Is(err, storage.ErrUnsafePrefix) {
				log.Warn("Failed to delete abandoned draft pages", zap.Error(err))
				errs = append(errs, err)
				continue
			}
		} else {
			log.Debug("Draft prefix is published, keeping objects")
		}

		if err := r.drafts.ForgetPrefix(ctx, prefix); err != nil {
			errs = append(errs, err)
			continue
		}
		reaped++
	}

	r.logger.Info("Draft reap pass finished", zap.Int("candidates", len(prefixes)), zap.Int("reaped", reaped))
	return reaped, errors.Join(errs...)
}
