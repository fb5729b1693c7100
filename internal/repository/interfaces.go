package repository

import (
	"context"
	"time"

	"manga-server/internal/models"
)

// ChapterRepository хранит главы и состояние обработки их страниц.
// Все переходы состояния - условные атомарные UPDATE.
type ChapterRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Chapter, error)

	// BeginProcessing переводит главу в processing и сохраняет токен и страницы.
	// ErrAlreadyProcessing, если глава уже в processing.
	BeginProcessing(ctx context.Context, id int64, draftToken string, pageIDs []string, now time.Time) error
	// RearmProcessing переводит failed -> processing, не трогая токен и страницы.
	// ErrNotRetryable, если глава не в failed или данных для повтора нет.
	RearmProcessing(ctx context.Context, id int64, now time.Time) (*models.Chapter, error)
	// FinalizeProcessing записывает новые страницы и очищает поля обработки.
	// Возвращает набор страниц, опубликованный до этой записи.
	FinalizeProcessing(ctx context.Context, in models.FinalizeInput) (*models.PublishedPages, error)
	// FailProcessing переводит processing -> failed с диагностикой.
	FailProcessing(ctx context.Context, id int64, diagnostic string, now time.Time) error
	// FailInterrupted переводит все главы, оставшиеся в processing, в failed.
	FailInterrupted(ctx context.Context, diagnostic string, now time.Time) ([]int64, error)

	// IsPrefixPublished - является ли префикс опубликованным префиксом какой-либо главы.
	IsPrefixPublished(ctx context.Context, prefix string) (bool, error)

	// Delete удаляет главу и возвращает удаленную строку.
	Delete(ctx context.Context, id int64) (*models.Chapter, error)
	MangaExists(ctx context.Context, mangaID int64) (bool, error)
	// DeleteManga удаляет тайтл вместе с главами и возвращает удаленные главы.
	DeleteManga(ctx context.Context, mangaID int64) ([]models.Chapter, error)
}

// DraftRepository хранит сессии черновиков с ленивым истечением TTL
// и индекс префиксов для уборки брошенных черновиков.
type DraftRepository interface {
	Create(ctx context.Context, draft *models.DraftSession) error
	// Get возвращает живой черновик или ErrDraftNotFound.
	Get(ctx context.Context, token string) (*models.DraftSession, error)
	// Touch продлевает жизнь черновика: lastTouchedAt = max(текущее, now).
	// false, если черновика нет или он истек.
	Touch(ctx context.Context, token string, now time.Time) (bool, error)
	// Delete удаляет черновик и его запись в индексе уборки.
	Delete(ctx context.Context, token string) error
	// ExpiredPrefixes возвращает префиксы черновиков, истекших раньше before.
	ExpiredPrefixes(ctx context.Context, before time.Time, limit int) ([]string, error)
	// ForgetPrefix убирает префикс из индекса уборки.
	ForgetPrefix(ctx context.Context, prefix string) error
	TTL() time.Duration
}
