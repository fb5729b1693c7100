package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"manga-server/internal/models"
	"manga-server/internal/repository"
)

// MockDraftRepository is a mock type for the DraftRepository type
type MockDraftRepository struct {
	mock.Mock
}

// Create provides a mock function with given fields: ctx, draft
func (_m *MockDraftRepository) Create(ctx context.Context, draft *models.DraftSession) error {
	ret := _m.Called(ctx, draft)
	return ret.Error(0)
}

// Get provides a mock function with given fields: ctx, token
func (_m *MockDraftRepository) Get(ctx context.Context, token string) (*models.DraftSession, error) {
	ret := _m.Called(ctx, token)

	var r0 *models.DraftSession
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.DraftSession)
	}
	return r0, ret.Error(1)
}

// Touch provides a mock function with given fields: ctx, token, now
func (_m *MockDraftRepository) Touch(ctx context.Context, token string, now time.Time) (bool, error) {
	ret := _m.Called(ctx, token, now)
	return ret.Bool(0), ret.Error(1)
}

// Delete provides a mock function with given fields: ctx, token
func (_m *MockDraftRepository) Delete(ctx context.Context, token string) error {
	ret := _m.Called(ctx, token)
	return ret.Error(0)
}

// ExpiredPrefixes provides a mock function with given fields: ctx, before, limit
func (_m *MockDraftRepository) ExpiredPrefixes(ctx context.Context, before time.Time, limit int) ([]string, error) {
	ret := _m.Called(ctx, before, limit)

	var r0 []string
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]string)
	}
	return r0, ret.Error(1)
}

// ForgetPrefix provides a mock function with given fields: ctx, prefix
func (_m *MockDraftRepository) ForgetPrefix(ctx context.Context, prefix string) error {
	ret := _m.Called(ctx, prefix)
	return ret.Error(0)
}

// TTL provides a mock function with given fields:
func (_m *MockDraftRepository) TTL() time.Duration {
	ret := _m.Called()
	return ret.Get(0).(time.Duration)
}

// NewMockDraftRepository creates a new instance of MockDraftRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockDraftRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockDraftRepository {
	m := &MockDraftRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ repository.DraftRepository = (*MockDraftRepository)(nil)
