package usecase

import (
	"context"
	"fmt"

	"gitlab.com/voxline/api/voxline-call-directory/internal/profile"
	"gitlab.com/voxline/api/voxline-call-directory/internal/storage"
)

// JournalNotifier is the slice of the call journal the ingest path needs:
// after new entries are persisted it schedules a snapshot refresh.
type JournalNotifier interface {
	NotifyAppended()
}

// CallEventService persists call events consumed from NATS and notifies the
// journal so subscribers see fresh snapshots.
type CallEventService struct {
	callRepo     storage.CallHistoryRepo
	contactRepo  storage.ContactRepo
	journal      JournalNotifier
	ingestWorker IIngestWorker
}

// NewCallEventService creates a new call event service
func NewCallEventService(
	callRepo storage.CallHistoryRepo,
	contactRepo storage.ContactRepo,
	journal JournalNotifier,
	ingestWorker IIngestWorker,
) *CallEventService {
	return &CallEventService{
		callRepo:     callRepo,
		contactRepo:  contactRepo,
		journal:      journal,
		ingestWorker: ingestWorker,
	}
}

// validateProfileScope validates that the payload's profile matches the
// profile ID from context
func validateProfileScope(ctx context.Context, payloadProfileID string) error {
	if payloadProfileID == "" {
		return nil // Skip validation if the payload carries no profile
	}

	profileID, err := profile.FromContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get profile ID: %w", err)
	}

	if payloadProfileID != profileID {
		return fmt.Errorf("payload profile (%s) does not match profile ID (%s)", payloadProfileID, profileID)
	}

	return nil
}
