package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manga-server/internal/imaging"
	"manga-server/internal/imaging/imagingtest"
	"manga-server/internal/models"
	"manga-server/internal/repository"
	"manga-server/internal/service"
	"manga-server/internal/service/mocks"
	"manga-server/internal/storage"
	"manga-server/pkg/taskmanager"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memChapterRepo повторяет условные переходы pgChapterRepository.
type memChapterRepo struct {
	mu          sync.Mutex
	chapters    map[int64]*models.Chapter
	mangas      map[int64]bool
	finalizeErr error
	beginHook   func()
}

var _ repository.ChapterRepository = (*memChapterRepo)(nil)

func newMemChapterRepo() *memChapterRepo {
	return &memChapterRepo{
		chapters: make(map[int64]*models.Chapter),
		mangas:   make(map[int64]bool),
	}
}

func (r *memChapterRepo) addChapter(id, mangaID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mangas[mangaID] = true
	r.chapters[id] = &models.Chapter{ID: id, MangaID: mangaID, Number: float64(id)}
}

func (r *memChapterRepo) snapshot(id int64) models.Chapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *r.chapters[id]
	c.PageIDs = append([]string(nil), c.PageIDs...)
	c.ProcessingPages = append([]string(nil), c.ProcessingPages...)
	return c
}

func (r *memChapterRepo) update(id int64, fn func(c *models.Chapter)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.chapters[id])
}

func (r *memChapterRepo) GetByID(_ context.Context, id int64) (*models.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chapters[id]
	if !ok {
		return nil, models.ErrChapterNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memChapterRepo) BeginProcessing(_ context.Context, id int64, token string, pageIDs []string, now time.Time) error {
	if r.beginHook != nil {
		r.beginHook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chapters[id]
	if !ok {
		return models.ErrChapterNotFound
	}
	if c.ProcessingState == models.ProcessingInProgress {
		return models.ErrAlreadyProcessing
	}
	c.ProcessingState = models.ProcessingInProgress
	c.ProcessingError = ""
	c.ProcessingDraftToken = token
	c.ProcessingPages = append([]string(nil), pageIDs...)
	c.ProcessingUpdatedAt = &now
	return nil
}

func (r *memChapterRepo) RearmProcessing(_ context.Context, id int64, now time.Time) (*models.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chapters[id]
	if !ok {
		return nil, models.ErrChapterNotFound
	}
	if c.ProcessingState != models.ProcessingFailed || !c.HasRetryData() {
		return nil, models.ErrNotRetryable
	}
	c.ProcessingState = models.ProcessingInProgress
	c.ProcessingError = ""
	c.ProcessingUpdatedAt = &now
	cp := *c
	return &cp, nil
}

func (r *memChapterRepo) FinalizeProcessing(_ context.Context, in models.FinalizeInput) (*models.PublishedPages, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalizeErr != nil {
		return nil, r.finalizeErr
	}
	c, ok := r.chapters[in.ChapterID]
	if !ok {
		return nil, models.ErrChapterNotFound
	}
	if c.ProcessingState != models.ProcessingInProgress {
		return nil, fmt.Errorf("%w: not processing", models.ErrConflict)
	}
	prev := &models.PublishedPages{PagesPrefix: c.PagesPrefix, PageIDs: c.PageIDs}
	at := in.FinalizedAt
	c.Pages = len(in.PageIDs)
	c.PageIDs = append([]string(nil), in.PageIDs...)
	c.PagesPrefix = in.PagesPrefix
	c.PagesUpdatedAt = &at
	c.Date = at
	c.ProcessingState = models.ProcessingNone
	c.ProcessingError = ""
	c.ProcessingDraftToken = ""
	c.ProcessingPages = nil
	c.ProcessingUpdatedAt = nil
	return prev, nil
}

func (r *memChapterRepo) FailProcessing(_ context.Context, id int64, diagnostic string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chapters[id]
	if !ok || c.ProcessingState != models.ProcessingInProgress {
		return nil
	}
	c.ProcessingState = models.ProcessingFailed
	c.ProcessingError = diagnostic
	c.ProcessingUpdatedAt = &now
	return nil
}

func (r *memChapterRepo) FailInterrupted(_ context.Context, diagnostic string, now time.Time) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for id, c := range r.chapters {
		if c.ProcessingState == models.ProcessingInProgress {
			c.ProcessingState = models.ProcessingFailed
			c.ProcessingError = diagnostic
			c.ProcessingUpdatedAt = &now
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memChapterRepo) IsPrefixPublished(_ context.Context, prefix string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.chapters {
		if c.PagesPrefix == prefix {
			return true, nil
		}
	}
	return false, nil
}

func (r *memChapterRepo) Delete(_ context.Context, id int64) (*models.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chapters[id]
	if !ok {
		return nil, models.ErrChapterNotFound
	}
	delete(r.chapters, id)
	return c, nil
}

func (r *memChapterRepo) MangaExists(_ context.Context, mangaID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mangas[mangaID], nil
}

func (r *memChapterRepo) DeleteManga(_ context.Context, mangaID int64) ([]models.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.mangas[mangaID] {
		return nil, models.ErrMangaNotFound
	}
	var deleted []models.Chapter
	for id, c := range r.chapters {
		if c.MangaID == mangaID {
			deleted = append(deleted, *c)
			delete(r.chapters, id)
		}
	}
	delete(r.mangas, mangaID)
	return deleted, nil
}

// failingStore отказывает в записи, остальное делегирует MemoryStore.
type failingStore struct {
	*storage.MemoryStore
	putErr  error
	listErr error
	// listGate, если задан, задерживает ListVersions до закрытия канала.
	listGate chan struct{}
}

func (s *failingStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.MemoryStore.PutObject(ctx, key, data, contentType)
}

func (s *failingStore) ListVersions(ctx context.Context, prefix string) ([]storage.VersionRef, error) {
	if s.listGate != nil {
		<-s.listGate
	}
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.MemoryStore.ListVersions(ctx, prefix)
}

var errStorageDown = errors.New("storage is down")

// pipeline собирает сервисы поверх in-memory реализаций.
type pipeline struct {
	clock      *fakeClock
	draftRepo  *repository.MemoryDraftRepository
	drafts     service.DraftService
	store      *failingStore
	pages      service.PageService
	chapters   *memChapterRepo
	tasks      *taskmanager.TaskManager
	events     *mocks.RecordingEventPublisher
	processing service.ChapterProcessingService
	deletion   service.DeletionService
	reaper     *service.DraftReaper
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	return newPipelineWith(t, taskmanager.Config{Workers: 2, QueueSize: 16})
}

func newPipelineWith(t *testing.T, taskCfg taskmanager.Config) *pipeline {
	t.Helper()
	logger := zap.NewNop()

	p := &pipeline{
		clock:    &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		store:    &failingStore{MemoryStore: storage.NewMemoryStore()},
		chapters: newMemChapterRepo(),
		events:   &mocks.RecordingEventPublisher{},
	}
	p.draftRepo = repository.NewMemoryDraftRepository(time.Hour, p.clock.Now)
	p.drafts = service.NewDraftService(p.draftRepo, true, logger)

	reconciler := storage.NewReconciler(p.store, logger)
	transcoder := imaging.NewHTTPTranscoder("", time.Second, 0, imaging.Limits{MaxBytes: 1 << 20}, logger)
	p.pages = service.NewPageService(p.drafts, transcoder, p.store, reconciler, "https://cdn.example.com/", logger)

	p.tasks = taskmanager.New(taskCfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.tasks.Shutdown(ctx)
	})

	p.processing = service.NewChapterProcessingService(p.chapters, p.drafts, p.store, reconciler, p.tasks, p.events, logger)
	p.deletion = service.NewDeletionService(p.chapters, p.drafts, reconciler, p.tasks, logger)
	p.reaper = service.NewDraftReaper(p.draftRepo, p.chapters, reconciler, p.tasks,
		service.DraftReaperConfig{Grace: 10 * time.Minute, Batch: 50, Now: p.clock.Now}, logger)
	return p
}

// waitTask ждет терминального статуса задачи.
func (p *pipeline) waitTask(t *testing.T, id uuid.UUID) taskmanager.Task {
	t.Helper()
	var task taskmanager.Task
	require.Eventually(t, func() bool {
		got, err := p.tasks.GetTask(id)
		if err != nil || !got.Status.Terminal() {
			return false
		}
		task = got
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func (p *pipeline) upload(t *testing.T, token string, pageIDs ...string) {
	t.Helper()
	for _, id := range pageIDs {
		_, err := p.pages.UploadPage(context.Background(), token, id, imagingtest.Webp())
		require.NoError(t, err)
	}
}
