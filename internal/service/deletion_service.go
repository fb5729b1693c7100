package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"manga-server/internal/models"
	"manga-server/internal/repository"
	"manga-server/internal/storage"
	"manga-server/pkg/taskmanager"
)

const (
	TaskTypeChapterDelete = "chapter-delete"
	TaskTypeMangaDelete   = "manga-delete"
)

func mangaResourceKey(mangaID int64) string {
	return fmt.Sprintf("manga:%d", mangaID)
}

// DeletionService удаляет главы и тайтлы вместе с их объектами в хранилище.
// Само удаление выполняется фоновой задачей.
type DeletionService interface {
	DeleteChapter(ctx context.Context, chapterID int64) (uuid.UUID, error)
	DeleteManga(ctx context.Context, mangaID int64) (uuid.UUID, error)
}

type deletionServiceImpl struct {
	chapters   repository.ChapterRepository
	drafts     DraftService
	reconciler *storage.Reconciler
	tasks      taskmanager.ITaskManager
	logger     *zap.Logger
}

// NewDeletionService создает сервис удаления. reconciler может быть nil,
// если хранилище не настроено: тогда удаляются только строки БД.
func NewDeletionService(
	chapters repository.ChapterRepository,
	drafts DraftService,
	reconciler *storage.Reconciler,
	tasks taskmanager.ITaskManager,
	logger *zap.Logger,
) DeletionService {
	return &deletionServiceImpl{
		chapters:   chapters,
		drafts:     drafts,
		reconciler: reconciler,
		tasks:      tasks,
		logger:     logger.Named("DeletionService"),
	}
}

func (s *deletionServiceImpl) DeleteChapter(ctx context.Context, chapterID int64) (uuid.UUID, error) {
	if _, err := s.chapters.GetByID(ctx, chapterID); err != nil {
		return uuid.Nil, err
	}

	jobID, err := s.tasks.SubmitExclusive(ctx, TaskTypeChapterDelete, chapterResourceKey(chapterID), func(ctx context.Context) error {
		chapter, err := s.chapters.Delete(ctx, chapterID)
		if err != nil {
			if errors.Is(err, models.ErrChapterNotFound) {
				return nil
			}
			return err
		}
		return s.cleanup(ctx, []models.Chapter{*chapter})
	})
	if err != nil {
		return uuid.Nil, s.mapSubmitError(err)
	}
	s.logger.Info("Chapter deletion scheduled", zap.Int64("chapterID", chapterID), zap.String("jobID", jobID.String()))
	return jobID, nil
}

func (s *deletionServiceImpl) DeleteManga(ctx context.Context, mangaID int64) (uuid.UUID, error) {
	exists, err := s.chapters.MangaExists(ctx, mangaID)
	if err != nil {
		return uuid.Nil, err
	}
	if !exists {
		return uuid.Nil, models.ErrMangaNotFound
	}

	jobID, err := s.tasks.SubmitExclusive(ctx, TaskTypeMangaDelete, mangaResourceKey(mangaID), func(ctx context.Context) error {
		chapters, err := s.chapters.DeleteManga(ctx, mangaID)
		if err != nil {
			if errors.Is(err, models.ErrMangaNotFound) {
				return nil
			}
			return err
		}
		return s.cleanup(ctx, chapters)
	})
	if err != nil {
		return uuid.Nil, s.mapSubmitError(err)
	}
	s.logger.Info("Manga deletion scheduled", zap.Int64("mangaID", mangaID), zap.String("jobID", jobID.String()))
	return jobID, nil
}

// cleanup удаляет опубликованные префиксы удаленных глав и черновики
// незавершенных коммитов.
func (s *deletionServiceImpl) cleanup(ctx context.Context, chapters []models.Chapter) error {
	seen := make(map[string]struct{})
	var prefixes []string
	add := func(prefix string) {
		if prefix == "" {
			return
		}
		if _, ok := seen[prefix]; ok {
			return
		}
		seen[prefix] = struct{}{}
		prefixes = append(prefixes, prefix)
	}

	for _, ch := range chapters {
		add(ch.PagesPrefix)
		if ch.ProcessingDraftToken != "" {
			add(models.DraftPagesPrefix(ch.MangaID, ch.ProcessingDraftToken))
			if err := s.drafts.ConsumeDraft(ctx, ch.ProcessingDraftToken); err != nil {
				s.logger.Warn("Failed to drop draft of deleted chapter", zap.Int64("chapterID", ch.ID), zap.Error(err))
			}
		}
	}

	if s.reconciler == nil || len(prefixes) == 0 {
		return nil
	}
	deleted, err := s.reconciler.DeletePrefixes(ctx, prefixes)
	if err != nil {
		return fmt.Errorf("storage cleanup incomplete (%d versions deleted): %w", deleted, err)
	}
	s.logger.Info("Storage cleaned up after deletion", zap.Int("prefixes", len(prefixes)), zap.Int("versions", deleted))
	return nil
}

func (s *deletionServiceImpl) mapSubmitError(err error) error {
	if errors.Is(err, taskmanager.ErrResourceBusy) {
		return models.ErrResourceBusy
	}
	return err
}
