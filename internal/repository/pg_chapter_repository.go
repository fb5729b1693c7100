package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"manga-server/internal/database"
	"manga-server/internal/models"
)

const chapterColumns = `id, manga_id, number, title, pages, page_ids, pages_prefix, pages_updated_at, date,
	processing_state, processing_error, processing_draft_token, processing_pages, processing_updated_at`

var _ ChapterRepository = (*pgChapterRepository)(nil)

type pgChapterRepository struct {
	db     database.DBTX
	logger *zap.Logger
}

func NewPgChapterRepository(db database.DBTX, logger *zap.Logger) ChapterRepository {
	return &pgChapterRepository{
		db:     db,
		logger: logger.Named("PgChapterRepo"),
	}
}

func (r *pgChapterRepository) GetByID(ctx context.Context, id int64) (*models.Chapter, error) {
	query := `SELECT ` + chapterColumns + ` FROM chapters WHERE id = $1`
	chapter := &models.Chapter{}
	if err := pgxscan.Get(ctx, r.db, chapter, query, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, models.ErrChapterNotFound
		}
		r.logger.Error("Failed to get chapter", zap.Int64("chapterID", id), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения главы %d: %w", id, err)
	}
	return chapter, nil
}

func (r *pgChapterRepository) BeginProcessing(ctx context.Context, id int64, draftToken string, pageIDs []string, now time.Time) error {
	query := `
		UPDATE chapters
		SET processing_state = 'processing',
		    processing_error = '',
		    processing_draft_token = $2,
		    processing_pages = $3,
		    processing_updated_at = $4
		WHERE id = $1 AND processing_state <> 'processing'`
	logFields := []zap.Field{zap.Int64("chapterID", id), zap.Int("pages", len(pageIDs))}

	pagesJSON, err := json.Marshal(pageIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal page ids: %w", err)
	}

	commandTag, err := r.db.Exec(ctx, query, id, draftToken, pagesJSON, now.UTC())
	if err != nil {
		r.logger.Error("Failed to begin processing", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка перевода главы %d в processing: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		exists, err := r.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return models.ErrChapterNotFound
		}
		r.logger.Warn("Chapter is already processing", logFields...)
		return models.ErrAlreadyProcessing
	}

	r.logger.Info("Chapter processing started", logFields...)
	return nil
}

func (r *pgChapterRepository) RearmProcessing(ctx context.Context, id int64, now time.Time) (*models.Chapter, error) {
	query := `
		UPDATE chapters
		SET processing_state = 'processing',
		    processing_error = '',
		    processing_updated_at = $2
		WHERE id = $1
		  AND processing_state = 'failed'
		  AND processing_draft_token <> ''
		  AND jsonb_array_length(processing_pages) > 0
		RETURNING ` + chapterColumns
	chapter := &models.Chapter{}
	err := pgxscan.Get(ctx, r.db, chapter, query, id, now.UTC())
	if err == nil {
		r.logger.Info("Chapter processing re-armed", zap.Int64("chapterID", id))
		return chapter, nil
	}
	if !pgxscan.NotFound(err) {
		r.logger.Error("Failed to re-arm processing", zap.Int64("chapterID", id), zap.Error(err))
		return nil, fmt.Errorf("ошибка повторного запуска обработки главы %d: %w", id, err)
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, models.ErrChapterNotFound
	}
	return nil, models.ErrNotRetryable
}

func (r *pgChapterRepository) FinalizeProcessing(ctx context.Context, in models.FinalizeInput) (*models.PublishedPages, error) {
	logFields := []zap.Field{
		zap.Int64("chapterID", in.ChapterID),
		zap.String("pagesPrefix", in.PagesPrefix),
		zap.Int("pages", len(in.PageIDs)),
	}
	pagesJSON, err := json.Marshal(in.PageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal page ids: %w", err)
	}

	var previous models.PublishedPages
	err = database.ExecuteInTransaction(ctx, r.db, func(tx pgx.Tx) error {
		var state models.ProcessingState
		lockQuery := `SELECT pages_prefix, page_ids, processing_state FROM chapters WHERE id = $1 FOR UPDATE`
		if err := tx.QueryRow(ctx, lockQuery, in.ChapterID).Scan(&previous.PagesPrefix, &previous.PageIDs, &state); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrChapterNotFound
			}
			return fmt.Errorf("ошибка блокировки главы: %w", err)
		}
		if state != models.ProcessingInProgress {
			return fmt.Errorf("%w: chapter left processing state (%q) before finalize", models.ErrConflict, state)
		}

		updateQuery := `
			UPDATE chapters
			SET pages = $2,
			    page_ids = $3,
			    pages_prefix = $4,
			    pages_updated_at = $5,
			    date = $5,
			    processing_state = '',
			    processing_error = '',
			    processing_draft_token = '',
			    processing_pages = '[]'::jsonb,
			    processing_updated_at = NULL
			WHERE id = $1`
		if _, err := tx.Exec(ctx, updateQuery, in.ChapterID, len(in.PageIDs), pagesJSON, in.PagesPrefix, in.FinalizedAt.UTC()); err != nil {
			return fmt.Errorf("ошибка записи страниц главы: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to finalize chapter pages", append(logFields, zap.Error(err))...)
		return nil, err
	}

	r.logger.Info("Chapter pages finalized", append(logFields, zap.String("previousPrefix", previous.PagesPrefix))...)
	return &previous, nil
}

func (r *pgChapterRepository) FailProcessing(ctx context.Context, id int64, diagnostic string, now time.Time) error {
	query := `
		UPDATE chapters
		SET processing_state = 'failed',
		    processing_error = $2,
		    processing_updated_at = $3
		WHERE id = $1 AND processing_state = 'processing'`
	logFields := []zap.Field{zap.Int64("chapterID", id), zap.String("diagnostic", diagnostic)}

	commandTag, err := r.db.Exec(ctx, query, id, diagnostic, now.UTC())
	if err != nil {
		r.logger.Error("Failed to record processing failure", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка записи сбоя обработки главы %d: %w", id, err)
	}
	if commandTag.RowsAffected() == 0 {
		r.logger.Warn("Chapter was not in processing state, failure not recorded", logFields...)
		return nil
	}
	r.logger.Info("Chapter processing failed", logFields...)
	return nil
}

func (r *pgChapterRepository) FailInterrupted(ctx context.Context, diagnostic string, now time.Time) ([]int64, error) {
	query := `
		UPDATE chapters
		SET processing_state = 'failed',
		    processing_error = $1,
		    processing_updated_at = $2
		WHERE processing_state = 'processing'
		RETURNING id`
	var ids []int64
	if err := pgxscan.Select(ctx, r.db, &ids, query, diagnostic, now.UTC()); err != nil {
		r.logger.Error("Failed to fail interrupted chapters", zap.Error(err))
		return nil, fmt.Errorf("ошибка сброса зависших обработок: %w", err)
	}
	if len(ids) > 0 {
		r.logger.Warn("Interrupted chapter processing marked as failed", zap.Int64s("chapterIDs", ids))
	}
	return ids, nil
}

func (r *pgChapterRepository) IsPrefixPublished(ctx context.Context, prefix string) (bool, error) {
	var published bool
	query := `SELECT EXISTS(SELECT 1 FROM chapters WHERE pages_prefix = $1)`
	if err := r.db.QueryRow(ctx, query, prefix).Scan(&published); err != nil {
		return false, fmt.Errorf("ошибка проверки префикса %s: %w", prefix, err)
	}
	return published, nil
}

func (r *pgChapterRepository) Delete(ctx context.Context, id int64) (*models.Chapter, error) {
	query := `DELETE FROM chapters WHERE id = $1 RETURNING ` + chapterColumns
	chapter := &models.Chapter{}
	if err := pgxscan.Get(ctx, r.db, chapter, query, id); err != nil {
		if pgxscan.NotFound(err) {
			return nil, models.ErrChapterNotFound
		}
		r.logger.Error("Failed to delete chapter", zap.Int64("chapterID", id), zap.Error(err))
		return nil, fmt.Errorf("ошибка удаления главы %d: %w", id, err)
	}
	r.logger.Info("Chapter deleted", zap.Int64("chapterID", id), zap.Int64("mangaID", chapter.MangaID))
	return chapter, nil
}

func (r *pgChapterRepository) MangaExists(ctx context.Context, mangaID int64) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM mangas WHERE id = $1)`, mangaID).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки существования тайтла %d: %w", mangaID, err)
	}
	return exists, nil
}

func (r *pgChapterRepository) DeleteManga(ctx context.Context, mangaID int64) ([]models.Chapter, error) {
	var chapters []models.Chapter
	err := database.ExecuteInTransaction(ctx, r.db, func(tx pgx.Tx) error {
		query := `DELETE FROM chapters WHERE manga_id = $1 RETURNING ` + chapterColumns
		if err := pgxscan.Select(ctx, tx, &chapters, query, mangaID); err != nil {
			return fmt.Errorf("ошибка удаления глав: %w", err)
		}
		commandTag, err := tx.Exec(ctx, `DELETE FROM mangas WHERE id = $1`, mangaID)
		if err != nil {
			return fmt.Errorf("ошибка удаления тайтла: %w", err)
		}
		if commandTag.RowsAffected() == 0 {
			return models.ErrMangaNotFound
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, models.ErrMangaNotFound) {
			r.logger.Error("Failed to delete manga", zap.Int64("mangaID", mangaID), zap.Error(err))
		}
		return nil, err
	}
	r.logger.Info("Manga deleted", zap.Int64("mangaID", mangaID), zap.Int("chapters", len(chapters)))
	return chapters, nil
}

func (r *pgChapterRepository) exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM chapters WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки существования главы %d: %w", id, err)
	}
	return exists, nil
}
