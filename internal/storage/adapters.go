package storage

import (
	"context"

	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
)

// ContactRepoAdapter adapts the PostgresRepo to the ContactRepo interface
type ContactRepoAdapter struct {
	postgres *PostgresRepo
}

// NewContactRepoAdapter creates a new contact repository adapter
func NewContactRepoAdapter(postgres *PostgresRepo) ContactRepo {
	return &ContactRepoAdapter{postgres: postgres}
}

// Insert persists a new contact
func (a *ContactRepoAdapter) Insert(ctx context.Context, contact model.Contact) (*model.Contact, error) {
	return a.postgres.InsertContact(ctx, contact)
}

// DeleteByID removes a contact by ID
func (a *ContactRepoAdapter) DeleteByID(ctx context.Context, id string) error {
	return a.postgres.DeleteContactByID(ctx, id)
}

// FetchAll returns all contacts ordered by name
func (a *ContactRepoAdapter) FetchAll(ctx context.Context) ([]model.Contact, error) {
	return a.postgres.FetchAllContacts(ctx)
}

// FindByPhone finds a contact by normalized phone number
func (a *ContactRepoAdapter) FindByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	return a.postgres.FindContactByPhone(ctx, phone)
}

// Clear removes every contact
func (a *ContactRepoAdapter) Clear(ctx context.Context) error {
	return a.postgres.ClearContacts(ctx)
}

func (a *ContactRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// CallHistoryRepoAdapter adapts the PostgresRepo to the CallHistoryRepo interface
type CallHistoryRepoAdapter struct {
	postgres *PostgresRepo
}

// NewCallHistoryRepoAdapter creates a new call history repository adapter
func NewCallHistoryRepoAdapter(postgres *PostgresRepo) CallHistoryRepo {
	return &CallHistoryRepoAdapter{postgres: postgres}
}

// Save appends a single call record
func (a *CallHistoryRepoAdapter) Save(ctx context.Context, entry model.CallHistoryEntry) error {
	return a.postgres.SaveCallEntry(ctx, entry)
}

// BulkInsert appends a batch of call records
func (a *CallHistoryRepoAdapter) BulkInsert(ctx context.Context, entries []model.CallHistoryEntry) error {
	return a.postgres.BulkInsertCallEntries(ctx, entries)
}

// FetchAll returns all call records for a profile, newest first
func (a *CallHistoryRepoAdapter) FetchAll(ctx context.Context, profileID string) ([]model.CallHistoryEntry, error) {
	return a.postgres.FetchCallHistory(ctx, profileID)
}

// Clear removes every call record for a profile
func (a *CallHistoryRepoAdapter) Clear(ctx context.Context, profileID string) error {
	return a.postgres.ClearCallHistory(ctx, profileID)
}

func (a *CallHistoryRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// Ensure adapters implement the interfaces
var _ ContactRepo = (*ContactRepoAdapter)(nil)
var _ CallHistoryRepo = (*CallHistoryRepoAdapter)(nil)
