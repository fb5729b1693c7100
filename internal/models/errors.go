package models

import (
	"errors"
	"fmt"
)

// Категории ошибок. Конкретные ошибки ниже оборачивают одну из них,
// поэтому errors.Is работает на обоих уровнях.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input data")
	ErrConflict           = errors.New("conflict with current state")
	ErrStorageUnavailable = errors.New("object storage is not configured")
	ErrUpstreamFailure    = errors.New("upstream call failed")
	ErrNotRetryable       = errors.New("processing cannot be retried")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Draft & upload errors
var (
	ErrInvalidDraftToken = fmt.Errorf("%w: malformed draft token", ErrInvalidInput)
	ErrInvalidPageID     = fmt.Errorf("%w: invalid page id", ErrInvalidInput)
	ErrInvalidImage      = fmt.Errorf("%w: invalid image", ErrInvalidInput)
	ErrDraftNotFound     = fmt.Errorf("%w: draft not found or expired", ErrNotFound)

	ErrUploadFailed          = fmt.Errorf("%w: page upload failed", ErrUpstreamFailure)
	ErrTranscoderUnavailable = fmt.Errorf("%w: image transcoder unavailable", ErrUpstreamFailure)
)

// Chapter processing errors
var (
	ErrInvalidDraft      = fmt.Errorf("%w: draft is unknown, expired or belongs to another entry", ErrInvalidInput)
	ErrInvalidPageList   = fmt.Errorf("%w: invalid page list", ErrInvalidInput)
	ErrAlreadyProcessing = fmt.Errorf("%w: chapter processing already in progress", ErrConflict)
	ErrResourceBusy      = fmt.Errorf("%w: another job is running for this resource", ErrConflict)
	ErrChapterNotFound   = fmt.Errorf("%w: chapter not found", ErrNotFound)
	ErrMangaNotFound     = fmt.Errorf("%w: manga not found", ErrNotFound)
	ErrJobNotFound       = fmt.Errorf("%w: job not found", ErrNotFound)
)

// Token Errors
var (
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")
)
