package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"manga-server/internal/models"
	"manga-server/internal/repository"
)

// MockChapterRepository is a mock type for the ChapterRepository type
type MockChapterRepository struct {
	mock.Mock
}

// GetByID provides a mock function with given fields: ctx, id
func (_m *MockChapterRepository) GetByID(ctx context.Context, id int64) (*models.Chapter, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.Chapter
	if rf, ok := ret.Get(0).(func(context.Context, int64) *models.Chapter); ok {
		r0 = rf(ctx, id)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Chapter)
	}
	return r0, ret.Error(1)
}

// BeginProcessing provides a mock function with given fields: ctx, id, draftToken, pageIDs, now
func (_m *MockChapterRepository) BeginProcessing(ctx context.Context, id int64, draftToken string, pageIDs []string, now time.Time) error {
	ret := _m.Called(ctx, id, draftToken, pageIDs, now)
	return ret.Error(0)
}

// RearmProcessing provides a mock function with given fields: ctx, id, now
func (_m *MockChapterRepository) RearmProcessing(ctx context.Context, id int64, now time.Time) (*models.Chapter, error) {
	ret := _m.Called(ctx, id, now)

	var r0 *models.Chapter
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Chapter)
	}
	return r0, ret.Error(1)
}

// FinalizeProcessing provides a mock function with given fields: ctx, in
func (_m *MockChapterRepository) FinalizeProcessing(ctx context.Context, in models.FinalizeInput) (*models.PublishedPages, error) {
	ret := _m.Called(ctx, in)

	var r0 *models.PublishedPages
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.PublishedPages)
	}
	return r0, ret.Error(1)
}

// FailProcessing provides a mock function with given fields: ctx, id, diagnostic, now
func (_m *MockChapterRepository) FailProcessing(ctx context.Context, id int64, diagnostic string, now time.Time) error {
	ret := _m.Called(ctx, id, diagnostic, now)
	return ret.Error(0)
}

// FailInterrupted provides a mock function with given fields: ctx, diagnostic, now
func (_m *MockChapterRepository) FailInterrupted(ctx context.Context, diagnostic string, now time.Time) ([]int64, error) {
	ret := _m.Called(ctx, diagnostic, now)

	var r0 []int64
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]int64)
	}
	return r0, ret.Error(1)
}

// IsPrefixPublished provides a mock function with given fields: ctx, prefix
func (_m *MockChapterRepository) IsPrefixPublished(ctx context.Context, prefix string) (bool, error) {
	ret := _m.Called(ctx, prefix)
	return ret.Bool(0), ret.Error(1)
}

// Delete provides a mock function with given fields: ctx, id
func (_m *MockChapterRepository) Delete(ctx context.Context, id int64) (*models.Chapter, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.Chapter
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Chapter)
	}
	return r0, ret.Error(1)
}

// MangaExists provides a mock function with given fields: ctx, mangaID
func (_m *MockChapterRepository) MangaExists(ctx context.Context, mangaID int64) (bool, error) {
	ret := _m.Called(ctx, mangaID)
	return ret.Bool(0), ret.Error(1)
}

// DeleteManga provides a mock function with given fields: ctx, mangaID
func (_m *MockChapterRepository) DeleteManga(ctx context.Context, mangaID int64) ([]models.Chapter, error) {
	ret := _m.Called(ctx, mangaID)

	var r0 []models.Chapter
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.Chapter)
	}
	return r0, ret.Error(1)
}

// NewMockChapterRepository creates a new instance of MockChapterRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockChapterRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockChapterRepository {
	m := &MockChapterRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ repository.ChapterRepository = (*MockChapterRepository)(nil)
