package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingState - состояние конвейера публикации страниц главы.
// Пустая строка означает, что обработка не идёт.
type ProcessingState string

const (
	ProcessingNone       ProcessingState = ""
	ProcessingInProgress ProcessingState = "processing"
	ProcessingFailed     ProcessingState = "failed"
)

// Chapter - строка главы в той части, которая касается страниц.
type Chapter struct {
	ID             int64      `db:"id" json:"id"`
	MangaID        int64      `db:"manga_id" json:"mangaId"`
	Number         float64    `db:"number" json:"number"`
	Title          string     `db:"title" json:"title"`
	Pages          int        `db:"pages" json:"pages"`
	PageIDs        []string   `db:"page_ids" json:"pageIds"`
	PagesPrefix    string     `db:"pages_prefix" json:"pagesPrefix"`
	PagesUpdatedAt *time.Time `db:"pages_updated_at" json:"pagesUpdatedAt,omitempty"`
	Date           time.Time  `db:"date" json:"date"`

	ProcessingState      ProcessingState `db:"processing_state" json:"processingState"`
	ProcessingError      string          `db:"processing_error" json:"processingError,omitempty"`
	ProcessingDraftToken string          `db:"processing_draft_token" json:"-"`
	ProcessingPages      []string        `db:"processing_pages" json:"processingPages,omitempty"`
	ProcessingUpdatedAt  *time.Time      `db:"processing_updated_at" json:"processingUpdatedAt,omitempty"`
}

// HasRetryData - сохранены ли токен и страницы последнего коммита.
func (c *Chapter) HasRetryData() bool {
	return c.ProcessingDraftToken != "" && len(c.ProcessingPages) > 0
}

// PublishedPages - опубликованный набор страниц главы до финализации.
type PublishedPages struct {
	PagesPrefix string
	PageIDs     []string
}

// FinalizeInput - данные для атомарной записи результата обработки.
type FinalizeInput struct {
	ChapterID   int64
	PagesPrefix string
	PageIDs     []string
	FinalizedAt time.Time
}

// Статусы, которые видит клиент при опросе.
const (
	ChapterStatusIdle       = "idle"
	ChapterStatusProcessing = "processing"
	ChapterStatusFailed     = "failed"
	ChapterStatusDone       = "done"
)

// ProcessingStatus - ответ на опрос состояния обработки главы.
type ProcessingStatus struct {
	ChapterID   int64      `json:"chapterId"`
	State       string     `json:"state"`
	Error       string     `json:"error,omitempty"`
	Pages       int        `json:"pages"`
	PagesPrefix string     `json:"pagesPrefix,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// StatusOf сводит поля главы к состоянию для клиента.
func StatusOf(c *Chapter) *ProcessingStatus {
	st := &ProcessingStatus{
		ChapterID:   c.ID,
		Pages:       c.Pages,
		PagesPrefix: c.PagesPrefix,
		UpdatedAt:   c.ProcessingUpdatedAt,
	}
	switch c.ProcessingState {
	case ProcessingInProgress:
		st.State = ChapterStatusProcessing
	case ProcessingFailed:
		st.State = ChapterStatusFailed
		st.Error = c.ProcessingError
	default:
		if c.PagesPrefix != "" {
			st.State = ChapterStatusDone
			st.UpdatedAt = c.PagesUpdatedAt
		} else {
			st.State = ChapterStatusIdle
		}
	}
	return st
}

// ProcessingTicket - ответ на принятый коммит или повтор.
type ProcessingTicket struct {
	ChapterID int64     `json:"chapterId"`
	JobID     uuid.UUID `json:"jobId"`
	State     string    `json:"state"`
}

// ChapterProcessingEvent публикуется при каждом переходе обработки главы.
type ChapterProcessingEvent struct {
	ChapterID int64     `json:"chapter_id"`
	MangaID   int64     `json:"manga_id"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Pages     int       `json:"pages,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
