package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"manga-server/internal/imaging"
	"manga-server/internal/models"
	"manga-server/internal/storage"
)

// PageService загружает и удаляет страницы внутри префикса черновика.
type PageService interface {
	UploadPage(ctx context.Context, token, pageID string, data []byte) (*models.UploadedPage, error)
	// DeletePage удаляет все сохраненные версии страницы и возвращает их число.
	DeletePage(ctx context.Context, token, pageID string) (int, error)
}

type pageServiceImpl struct {
	drafts        DraftService
	transcoder    imaging.Transcoder
	store         storage.ObjectStore
	reconciler    *storage.Reconciler
	publicBaseURL string
	logger        *zap.Logger
}

// NewPageService создает сервис страниц. store может быть nil, если
// объектное хранилище не настроено: тогда любые операции отвечают
// ErrStorageUnavailable.
func NewPageService(
	drafts DraftService,
	transcoder imaging.Transcoder,
	store storage.ObjectStore,
	reconciler *storage.Reconciler,
	publicBaseURL string,
	logger *zap.Logger,
) PageService {
	return &pageServiceImpl{
		drafts:        drafts,
		transcoder:    transcoder,
		store:         store,
		reconciler:    reconciler,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger.Named("PageService"),
	}
}

func (s *pageServiceImpl) UploadPage(ctx context.Context, token, pageID string, data []byte) (*models.UploadedPage, error) {
	if s.store == nil {
		return nil, models.ErrStorageUnavailable
	}
	if !models.ValidPageID(pageID) {
		return nil, models.ErrInvalidPageID
	}
	draft, err := s.drafts.GetDraft(ctx, token)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("pagesPrefix", draft.PagesPrefix), zap.String("pageID", pageID))

	// Сбой конвертации не должен доходить до хранилища.
	webp, err := s.transcoder.ToWebp(ctx, data)
	if err != nil {
		log.Warn("Page transcode failed", zap.Int("bytes", len(data)), zap.Error(err))
		return nil, err
	}

	key := models.PageObjectKey(draft.PagesPrefix, pageID)
	if err := s.store.PutObject(ctx, key, webp, models.PageContentType); err != nil {
		log.Error("Page upload failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrUploadFailed, err)
	}

	s.touch(ctx, token, log)
	log.Debug("Page uploaded", zap.Int("bytes", len(webp)))
	return &models.UploadedPage{
		FileName: models.PageFileName(pageID),
		URL:      s.objectURL(key),
	}, nil
}

func (s *pageServiceImpl) DeletePage(ctx context.Context, token, pageID string) (int, error) {
	if s.store == nil {
		return 0, models.ErrStorageUnavailable
	}
	if !models.ValidPageID(pageID) {
		return 0, models.ErrInvalidPageID
	}
	draft, err := s.drafts.GetDraft(ctx, token)
	if err != nil {
		return 0, err
	}
	log := s.logger.With(zap.String("pagesPrefix", draft.PagesPrefix), zap.String("pageID", pageID))

	deleted, err := s.reconciler.DeletePageVersions(ctx, draft.PagesPrefix, pageID)
	if err != nil {
		log.Error("Page deletion failed", zap.Int("deleted", deleted), zap.Error(err))
		return deleted, fmt.Errorf("%w: %v", models.ErrUpstreamFailure, err)
	}

	s.touch(ctx, token, log)
	log.Debug("Page deleted", zap.Int("versions", deleted))
	return deleted, nil
}

// touch продлевает черновик после успешной записи. Ошибка не отменяет
// уже выполненную запись в хранилище.
func (s *pageServiceImpl) touch(ctx context.Context, token string, log *zap.Logger) {
	if _, err := s.drafts.TouchDraft(ctx, token); err != nil {
		log.Warn("Failed to touch draft", zap.Error(err))
	}
}

func (s *pageServiceImpl) objectURL(key string) string {
	if s.publicBaseURL == "" {
		return key
	}
	return s.publicBaseURL + "/" + key
}
