package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"manga-server/internal/models"
	"manga-server/internal/repository"
	"manga-server/internal/storage"
	"manga-server/pkg/taskmanager"
)

const (
	TaskTypeChapterFinalize = "chapter-finalize"

	// InterruptedDiagnostic записывается главам, чья обработка оборвалась
	// остановкой сервера.
	InterruptedDiagnostic = "processing interrupted by server restart"

	maxMissingPagesInDiagnostic = 10
)

func chapterResourceKey(chapterID int64) string {
	return fmt.Sprintf("chapter:%d", chapterID)
}

// ChapterProcessingService ведет главу через commit -> processing -> done|failed.
type ChapterProcessingService interface {
	// CommitChapterPages фиксирует упорядоченный список страниц черновика
	// и ставит задачу финализации. Ответ не ждет завершения задачи.
	CommitChapterPages(ctx context.Context, chapterID int64, token string, pageIDs []string) (*models.ProcessingTicket, error)
	// RetryChapterProcessing повторяет последний неудавшийся коммит.
	RetryChapterProcessing(ctx context.Context, chapterID int64) (*models.ProcessingTicket, error)
	GetProcessingStatus(ctx context.Context, chapterID int64) (*models.ProcessingStatus, error)
	// RecoverInterrupted переводит в failed главы, оставшиеся в processing
	// после перезапуска. Вызывается до приема запросов.
	RecoverInterrupted(ctx context.Context) (int, error)
}

type chapterProcessingServiceImpl struct {
	chapters   repository.ChapterRepository
	drafts     DraftService
	store      storage.ObjectStore
	reconciler *storage.Reconciler
	tasks      taskmanager.ITaskManager
	events     ProcessingEventPublisher
	logger     *zap.Logger
	now        func() time.Time
}

func NewChapterProcessingService(
	chapters repository.ChapterRepository,
	drafts DraftService,
	store storage.ObjectStore,
	reconciler *storage.Reconciler,
	tasks taskmanager.ITaskManager,
	events ProcessingEventPublisher,
	logger *zap.Logger,
) ChapterProcessingService {
	if events == nil {
		events = noopEventPublisher{}
	}
	return &chapterProcessingServiceImpl{
		chapters:   chapters,
		drafts:     drafts,
		store:      store,
		reconciler: reconciler,
		tasks:      tasks,
		events:     events,
		logger:     logger.Named("ChapterProcessingService"),
		now:        time.Now,
	}
}

func (s *chapterProcessingServiceImpl) CommitChapterPages(ctx context.Context, chapterID int64, token string, pageIDs []string) (*models.ProcessingTicket, error) {
	log := s.logger.With(zap.Int64("chapterID", chapterID))

	if !models.ValidDraftToken(token) {
		return nil, models.ErrInvalidDraft
	}
	ids, err := models.NormalizePageIDs(pageIDs)
	if err != nil {
		return nil, err
	}

	chapter, err := s.chapters.GetByID(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	draft, err := s.drafts.GetDraft(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrDraftNotFound) {
			return nil, models.ErrInvalidDraft
		}
		return nil, err
	}
	if draft.MangaID != chapter.MangaID {
		log.Warn("Draft belongs to another manga",
			zap.Int64("draftMangaID", draft.MangaID),
			zap.Int64("chapterMangaID", chapter.MangaID))
		return nil, models.ErrInvalidDraft
	}
	if chapter.ProcessingState == models.ProcessingInProgress {
		return nil, models.ErrAlreadyProcessing
	}

	// Резерв берется до записи состояния: пока он держится, вторая
	// задача по этой главе не может быть поставлена.
	res, err := s.tasks.Reserve(chapterResourceKey(chapterID))
	if err != nil {
		if errors.Is(err, taskmanager.ErrResourceBusy) {
			return nil, models.ErrAlreadyProcessing
		}
		return nil, err
	}
	defer res.Release()

	if err := s.chapters.BeginProcessing(ctx, chapterID, token, ids, s.now()); err != nil {
		return nil, err
	}
	if _, err := s.drafts.TouchDraft(ctx, token); err != nil {
		log.Warn("Failed to touch draft on commit", zap.Error(err))
	}

	// Событие уходит до постановки задачи, иначе done/failed может его обогнать.
	s.publish(ctx, models.ChapterProcessingEvent{
		ChapterID: chapterID,
		MangaID:   chapter.MangaID,
		State:     models.ChapterStatusProcessing,
		Pages:     len(ids),
	})
	jobID, err := res.Submit(ctx, TaskTypeChapterFinalize, s.finalizeJob(chapter.MangaID, chapterID, token, ids))
	if err != nil {
		s.failUnscheduled(ctx, chapter.MangaID, chapterID, err)
		return nil, err
	}

	log.Info("Chapter pages committed", zap.String("jobID", jobID.String()), zap.Int("pages", len(ids)))
	return &models.ProcessingTicket{ChapterID: chapterID, JobID: jobID, State: models.ChapterStatusProcessing}, nil
}

func (s *chapterProcessingServiceImpl) RetryChapterProcessing(ctx context.Context, chapterID int64) (*models.ProcessingTicket, error) {
	log := s.logger.With(zap.Int64("chapterID", chapterID))

	chapter, err := s.chapters.GetByID(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if chapter.ProcessingState != models.ProcessingFailed {
		return nil, fmt.Errorf("%w: chapter is not in failed state", models.ErrNotRetryable)
	}
	if !chapter.HasRetryData() {
		return nil, fmt.Errorf("%w: no stored commit to retry", models.ErrNotRetryable)
	}
	draft, err := s.drafts.GetDraft(ctx, chapter.ProcessingDraftToken)
	if err != nil {
		if errors.Is(err, models.ErrDraftNotFound) {
			return nil, fmt.Errorf("%w: draft of the failed commit has expired", models.ErrNotRetryable)
		}
		return nil, err
	}
	if draft.MangaID != chapter.MangaID {
		return nil, fmt.Errorf("%w: draft belongs to another manga", models.ErrNotRetryable)
	}

	res, err := s.tasks.Reserve(chapterResourceKey(chapterID))
	if err != nil {
		if errors.Is(err, taskmanager.ErrResourceBusy) {
			return nil, models.ErrAlreadyProcessing
		}
		return nil, err
	}
	defer res.Release()

	rearmed, err := s.chapters.RearmProcessing(ctx, chapterID, s.now())
	if err != nil {
		return nil, err
	}
	token, ids := rearmed.ProcessingDraftToken, rearmed.ProcessingPages

	s.publish(ctx, models.ChapterProcessingEvent{
		ChapterID: chapterID,
		MangaID:   rearmed.MangaID,
		State:     models.ChapterStatusProcessing,
		Pages:     len(ids),
	})
	jobID, err := res.Submit(ctx, TaskTypeChapterFinalize, s.finalizeJob(rearmed.MangaID, chapterID, token, ids))
	if err != nil {
		s.failUnscheduled(ctx, rearmed.MangaID, chapterID, err)
		return nil, err
	}

	log.Info("Chapter processing retried", zap.String("jobID", jobID.String()), zap.Int("pages", len(ids)))
	return &models.ProcessingTicket{ChapterID: chapterID, JobID: jobID, State: models.ChapterStatusProcessing}, nil
}

func (s *chapterProcessingServiceImpl) GetProcessingStatus(ctx context.Context, chapterID int64) (*models.ProcessingStatus, error) {
	chapter, err := s.chapters.GetByID(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	return models.StatusOf(chapter), nil
}

func (s *chapterProcessingServiceImpl) RecoverInterrupted(ctx context.Context) (int, error) {
	ids, err := s.chapters.FailInterrupted(ctx, InterruptedDiagnostic, s.now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.publish(ctx, models.ChapterProcessingEvent{
			ChapterID: id,
			State:     models.ChapterStatusFailed,
			Error:     InterruptedDiagnostic,
		})
	}
	return len(ids), nil
}

// failUnscheduled возвращает главу в failed, если задачу не удалось поставить.
// Иначе глава осталась бы в processing без задачи.
func (s *chapterProcessingServiceImpl) failUnscheduled(ctx context.Context, mangaID, chapterID int64, cause error) {
	ctx = context.WithoutCancel(ctx)
	diagnostic := "could not schedule processing: " + cause.Error()
	if err := s.chapters.FailProcessing(ctx, chapterID, diagnostic, s.now()); err != nil {
		s.logger.Error("CRITICAL: chapter left in processing without a job",
			zap.Int64("chapterID", chapterID), zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	s.logger.Warn("Processing job was not scheduled", zap.Int64("chapterID", chapterID), zap.Error(cause))
	s.publish(ctx, models.ChapterProcessingEvent{
		ChapterID: chapterID,
		MangaID:   mangaID,
		State:     models.ChapterStatusFailed,
		Error:     diagnostic,
	})
}

// finalizeJob - тело фоновой задачи. Снимок токена и страниц берется
// в момент коммита и дальше не меняется.
func (s *chapterProcessingServiceImpl) finalizeJob(mangaID, chapterID int64, token string, pageIDs []string) taskmanager.TaskFunc {
	return func(ctx context.Context) error {
		log := s.logger.With(zap.Int64("chapterID", chapterID), zap.Int64("mangaID", mangaID))

		if err := s.finalize(ctx, log, mangaID, chapterID, token, pageIDs); err != nil {
			diagnostic := err.Error()
			if ferr := s.chapters.FailProcessing(ctx, chapterID, diagnostic, s.now()); ferr != nil {
				log.Error("CRITICAL: failed to record processing failure", zap.NamedError("cause", err), zap.Error(ferr))
			}
			s.publish(ctx, models.ChapterProcessingEvent{
				ChapterID: chapterID,
				MangaID:   mangaID,
				State:     models.ChapterStatusFailed,
				Error:     diagnostic,
			})
			return err
		}

		s.publish(ctx, models.ChapterProcessingEvent{
			ChapterID: chapterID,
			MangaID:   mangaID,
			State:     models.ChapterStatusDone,
			Pages:     len(pageIDs),
		})
		return nil
	}
}

func (s *chapterProcessingServiceImpl) finalize(ctx context.Context, log *zap.Logger, mangaID, chapterID int64, token string, pageIDs []string) error {
	if s.store == nil {
		return models.ErrStorageUnavailable
	}

	draft, err := s.drafts.GetDraft(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrDraftNotFound) {
			return errors.New("draft expired before processing finished")
		}
		return fmt.Errorf("failed to load draft: %w", err)
	}
	if draft.MangaID != mangaID {
		return errors.New("draft belongs to another manga")
	}

	dir, err := storage.DirPrefix(draft.PagesPrefix)
	if err != nil {
		return err
	}
	refs, err := s.store.ListVersions(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to list uploaded pages: %w", err)
	}
	present := storage.CurrentKeys(refs)
	var missing []string
	for _, id := range pageIDs {
		if _, ok := present[models.PageObjectKey(draft.PagesPrefix, id)]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing uploaded pages: %s", summarizeIDs(missing, maxMissingPagesInDiagnostic))
	}

	previous, err := s.chapters.FinalizeProcessing(ctx, models.FinalizeInput{
		ChapterID:   chapterID,
		PagesPrefix: draft.PagesPrefix,
		PageIDs:     pageIDs,
		FinalizedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish pages: %w", err)
	}
	log.Info("Chapter pages published", zap.String("pagesPrefix", draft.PagesPrefix), zap.Int("pages", len(pageIDs)))

	if err := s.drafts.ConsumeDraft(ctx, token); err != nil {
		log.Warn("Failed to consume draft", zap.Error(err))
	}
	s.reconcile(ctx, log, previous, draft.PagesPrefix, pageIDs)
	return nil
}

// reconcile удаляет объекты, которые больше не входят в опубликованный
// набор. Ошибки только логируются: публикация уже состоялась.
func (s *chapterProcessingServiceImpl) reconcile(ctx context.Context, log *zap.Logger, previous *models.PublishedPages, prefix string, pageIDs []string) {
	if previous == nil || previous.PagesPrefix == "" {
		return
	}

	if previous.PagesPrefix != prefix {
		if _, err := s.reconciler.DeletePrefix(ctx, previous.PagesPrefix); err != nil {
			log.Error("Failed to delete previous pages prefix", zap.String("previousPrefix", previous.PagesPrefix), zap.Error(err))
		}
		return
	}

	excess := excessPageIDs(previous.PageIDs, pageIDs)
	if len(excess) == 0 {
		return
	}
	if _, err := s.reconciler.DeletePages(ctx, prefix, excess); err != nil {
		log.Error("Failed to delete excess pages", zap.Strings("pageIDs", excess), zap.Error(err))
	}
}

func (s *chapterProcessingServiceImpl) publish(ctx context.Context, event models.ChapterProcessingEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if err := s.events.PublishChapterEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to publish chapter processing event",
			zap.Int64("chapterID", event.ChapterID), zap.String("state", event.State), zap.Error(err))
	}
}

// excessPageIDs - страницы старого набора, которых нет в новом.
func excessPageIDs(previous, current []string) []string {
	keep := make(map[string]struct{}, len(current))
	for _, id := range current {
		keep[id] = struct{}{}
	}
	var excess []string
	for _, id := range previous {
		if _, ok := keep[id]; !ok {
			excess = append(excess, id)
		}
	}
	return excess
}

func summarizeIDs(ids []string, limit int) string {
	if len(ids) <= limit {
		return strings.Join(ids, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(ids[:limit], ", "), len(ids)-limit)
}
