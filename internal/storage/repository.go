package storage

import (
	"context"

	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
)

// ContactRepo defines contact storage operations
type ContactRepo interface {
	Insert(ctx context.Context, contact model.Contact) (*model.Contact, error)
	DeleteByID(ctx context.Context, id string) error
	FetchAll(ctx context.Context) ([]model.Contact, error)
	FindByPhone(ctx context.Context, phone string) (*model.Contact, error)
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

// CallHistoryRepo defines call history storage operations
type CallHistoryRepo interface {
	Save(ctx context.Context, entry model.CallHistoryEntry) error
	BulkInsert(ctx context.Context, entries []model.CallHistoryEntry) error
	FetchAll(ctx context.Context, profileID string) ([]model.CallHistoryEntry, error)
	Clear(ctx context.Context, profileID string) error
	Close(ctx context.Context) error
}
