package mock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
)

// --- ContactRepo Mock ---

// ContactRepoMock mocks the ContactRepo interface
type ContactRepoMock struct {
	mock.Mock
}

// Insert mocks the Insert method
func (m *ContactRepoMock) Insert(ctx context.Context, contact model.Contact) (*model.Contact, error) {
	args := m.Called(ctx, contact)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// DeleteByID mocks the DeleteByID method
func (m *ContactRepoMock) DeleteByID(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// FetchAll mocks the FetchAll method
func (m *ContactRepoMock) FetchAll(ctx context.Context) ([]model.Contact, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Contact), args.Error(1)
}

// FindByPhone mocks the FindByPhone method
func (m *ContactRepoMock) FindByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// Clear mocks the Clear method
func (m *ContactRepoMock) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *ContactRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- CallHistoryRepo Mock ---

// CallHistoryRepoMock mocks the CallHistoryRepo interface
type CallHistoryRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *CallHistoryRepoMock) Save(ctx context.Context, entry model.CallHistoryEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// BulkInsert mocks the BulkInsert method
func (m *CallHistoryRepoMock) BulkInsert(ctx context.Context, entries []model.CallHistoryEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

// FetchAll mocks the FetchAll method
func (m *CallHistoryRepoMock) FetchAll(ctx context.Context, profileID string) ([]model.CallHistoryEntry, error) {
	args := m.Called(ctx, profileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CallHistoryEntry), args.Error(1)
}

// Clear mocks the Clear method
func (m *CallHistoryRepoMock) Clear(ctx context.Context, profileID string) error {
	args := m.Called(ctx, profileID)
	return args.Error(0)
}

func (m *CallHistoryRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
