package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"manga-server/internal/models"
	"manga-server/internal/repository"
)

// DraftService управляет сессиями загрузки страниц.
type DraftService interface {
	CreateDraft(ctx context.Context, mangaID int64) (*models.DraftSession, error)
	// GetDraft возвращает живой черновик. Неверный или истекший токен - ErrDraftNotFound.
	GetDraft(ctx context.Context, token string) (*models.DraftSession, error)
	// TouchDraft продлевает живой черновик. Для неизвестного или истекшего - no-op и false.
	TouchDraft(ctx context.Context, token string) (bool, error)
	// ConsumeDraft удаляет черновик после успешной публикации.
	ConsumeDraft(ctx context.Context, token string) error
	TTL() time.Duration
}

type draftServiceImpl struct {
	repo              repository.DraftRepository
	storageConfigured bool
	logger            *zap.Logger
	now               func() time.Time
}

func NewDraftService(repo repository.DraftRepository, storageConfigured bool, logger *zap.Logger) DraftService {
	return &draftServiceImpl{
		repo:              repo,
		storageConfigured: storageConfigured,
		logger:            logger.Named("DraftService"),
		now:               time.Now,
	}
}

func (s *draftServiceImpl) TTL() time.Duration {
	return s.repo.TTL()
}

func (s *draftServiceImpl) CreateDraft(ctx context.Context, mangaID int64) (*models.DraftSession, error) {
	if !s.storageConfigured {
		return nil, models.ErrStorageUnavailable
	}
	if mangaID <= 0 {
		return nil, fmt.Errorf("%w: manga id must be positive", models.ErrInvalidInput)
	}

	token, err := models.NewDraftToken()
	if err != nil {
		s.logger.Error("Failed to generate draft token", zap.Error(err))
		return nil, fmt.Errorf("failed to generate draft token: %w", err)
	}
	now := s.now().UTC()
	draft := &models.DraftSession{
		Token:         token,
		MangaID:       mangaID,
		PagesPrefix:   models.DraftPagesPrefix(mangaID, token),
		CreatedAt:     now,
		LastTouchedAt: now,
	}
	if err := s.repo.Create(ctx, draft); err != nil {
		return nil, err
	}

	s.logger.Info("Draft created", zap.Int64("mangaID", mangaID), zap.String("pagesPrefix", draft.PagesPrefix))
	return draft, nil
}

func (s *draftServiceImpl) GetDraft(ctx context.Context, token string) (*models.DraftSession, error) {
	if !models.ValidDraftToken(token) {
		return nil, models.ErrDraftNotFound
	}
	return s.repo.Get(ctx, token)
}

func (s *draftServiceImpl) TouchDraft(ctx context.Context, token string) (bool, error) {
	if !models.ValidDraftToken(token) {
		return false, nil
	}
	return s.repo.Touch(ctx, token, s.now().UTC())
}

func (s *draftServiceImpl) ConsumeDraft(ctx context.Context, token string) error {
	if !models.ValidDraftToken(token) {
		return nil
	}
	if err := s.repo.Delete(ctx, token); err != nil && !errors.Is(err, models.ErrDraftNotFound) {
		return err
	}
	return nil
}
