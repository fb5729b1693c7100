package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"manga-server/internal/models"
	"manga-server/internal/service"
)

// MockDraftService is a mock type for the DraftService type
type MockDraftService struct {
	mock.Mock
}

// CreateDraft provides a mock function with given fields: ctx, mangaID
func (_m *MockDraftService) CreateDraft(ctx context.Context, mangaID int64) (*models.DraftSession, error) {
	ret := _m.Called(ctx, mangaID)

	var r0 *models.DraftSession
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.DraftSession)
	}
	return r0, ret.Error(1)
}

// GetDraft provides a mock function with given fields: ctx, token
func (_m *MockDraftService) GetDraft(ctx context.Context, token string) (*models.DraftSession, error) {
	ret := _m.Called(ctx, token)

	var r0 *models.DraftSession
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.DraftSession)
	}
	return r0, ret.Error(1)
}

// TouchDraft provides a mock function with given fields: ctx, token
func (_m *MockDraftService) TouchDraft(ctx context.Context, token string) (bool, error) {
	ret := _m.Called(ctx, token)
	return ret.Bool(0), ret.Error(1)
}

// ConsumeDraft provides a mock function with given fields: ctx, token
func (_m *MockDraftService) ConsumeDraft(ctx context.Context, token string) error {
	ret := _m.Called(ctx, token)
	return ret.Error(0)
}

// TTL provides a mock function with given fields:
func (_m *MockDraftService) TTL() time.Duration {
	ret := _m.Called()
	return ret.Get(0).(time.Duration)
}

// MockPageService is a mock type for the PageService type
type MockPageService struct {
	mock.Mock
}

// UploadPage provides a mock function with given fields: ctx, token, pageID, data
func (_m *MockPageService) UploadPage(ctx context.Context, token, pageID string, data []byte) (*models.UploadedPage, error) {
	ret := _m.Called(ctx, token, pageID, data)

	var r0 *models.UploadedPage
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.UploadedPage)
	}
	return r0, ret.Error(1)
}

// DeletePage provides a mock function with given fields: ctx, token, pageID
func (_m *MockPageService) DeletePage(ctx context.Context, token, pageID string) (int, error) {
	ret := _m.Called(ctx, token, pageID)
	return ret.Int(0), ret.Error(1)
}

// MockChapterProcessingService is a mock type for the ChapterProcessingService type
type MockChapterProcessingService struct {
	mock.Mock
}

// CommitChapterPages provides a mock function with given fields: ctx, chapterID, token, pageIDs
func (_m *MockChapterProcessingService) CommitChapterPages(ctx context.Context, chapterID int64, token string, pageIDs []string) (*models.ProcessingTicket, error) {
	ret := _m.Called(ctx, chapterID, token, pageIDs)

	var r0 *models.ProcessingTicket
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.ProcessingTicket)
	}
	return r0, ret.Error(1)
}

// RetryChapterProcessing provides a mock function with given fields: ctx, chapterID
func (_m *MockChapterProcessingService) RetryChapterProcessing(ctx context.Context, chapterID int64) (*models.ProcessingTicket, error) {
	ret := _m.Called(ctx, chapterID)

	var r0 *models.ProcessingTicket
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.ProcessingTicket)
	}
	return r0, ret.Error(1)
}

// GetProcessingStatus provides a mock function with given fields: ctx, chapterID
func (_m *MockChapterProcessingService) GetProcessingStatus(ctx context.Context, chapterID int64) (*models.ProcessingStatus, error) {
	ret := _m.Called(ctx, chapterID)

	var r0 *models.ProcessingStatus
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.ProcessingStatus)
	}
	return r0, ret.Error(1)
}

// RecoverInterrupted provides a mock function with given fields: ctx
func (_m *MockChapterProcessingService) RecoverInterrupted(ctx context.Context) (int, error) {
	ret := _m.Called(ctx)
	return ret.Int(0), ret.Error(1)
}

// MockDeletionService is a mock type for the DeletionService type
type MockDeletionService struct {
	mock.Mock
}

// DeleteChapter provides a mock function with given fields: ctx, chapterID
func (_m *MockDeletionService) DeleteChapter(ctx context.Context, chapterID int64) (uuid.UUID, error) {
	ret := _m.Called(ctx, chapterID)
	return ret.Get(0).(uuid.UUID), ret.Error(1)
}

// DeleteManga provides a mock function with given fields: ctx, mangaID
func (_m *MockDeletionService) DeleteManga(ctx context.Context, mangaID int64) (uuid.UUID, error) {
	ret := _m.Called(ctx, mangaID)
	return ret.Get(0).(uuid.UUID), ret.Error(1)
}

var (
	_ service.DraftService             = (*MockDraftService)(nil)
	_ service.PageService              = (*MockPageService)(nil)
	_ service.ChapterProcessingService = (*MockChapterProcessingService)(nil)
	_ service.DeletionService          = (*MockDeletionService)(nil)
)
