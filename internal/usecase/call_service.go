package usecase

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"

	apperrors "gitlab.com/voxline/api/voxline-call-directory/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
	"gitlab.com/voxline/api/voxline-call-directory/internal/profile"
	"gitlab.com/voxline/api/voxline-call-directory/internal/validator"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/phone"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/utils"
	"go.uber.org/zap"
)

// metadataToJSON converts the ingest envelope to datatypes.JSON for storage.
func metadataToJSON(metadata *model.LastMetadata) datatypes.JSON {
	if metadata == nil {
		return nil
	}
	metadataMap := map[string]interface{}{
		"consumer_sequence": metadata.ConsumerSequence,
		"stream_sequence":   metadata.StreamSequence,
		"stream":            metadata.Stream,
		"consumer":          metadata.Consumer,
		"domain":            metadata.Domain,
		"message_id":        metadata.MessageID,
		"message_subject":   metadata.MessageSubject,
		"processed_at":      utils.Now(),
	}
	return utils.MustMarshalJSON(metadataMap)
}

// payloadToEntry maps a wire payload to the persistence model. A zero
// timestamp is stored as NULL so the entry renders in the Unknown group.
func payloadToEntry(payload model.CallEventPayload, profileID string, metadataJSON datatypes.JSON) model.CallHistoryEntry {
	var ts *time.Time
	if payload.Timestamp > 0 {
		t := utils.UnixToTime(payload.Timestamp)
		ts = &t
	}

	entry := model.CallHistoryEntry{
		PhoneNumber:  phone.Normalize(payload.PhoneNumber),
		CallerName:   payload.CallerName,
		CallStatus:   payload.CallStatus,
		Direction:    payload.Direction,
		Timestamp:    ts,
		ProfileID:    profileID,
		LastMetadata: metadataJSON,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = utils.Now()
	}
	return entry
}

// RecordCall persists a single realtime call event. On success the ingest
// worker is notified so the journal snapshot refreshes and the caller's
// number is checked against the contact set.
func (s *CallEventService) RecordCall(ctx context.Context, payload model.CallEventPayload, metadata *model.LastMetadata) error {
	log := logger.FromContext(ctx)

	// Validate input
	if err := validator.Validate(payload); err != nil {
		log.Error("Call event validation failed",
			zap.String("phone_number", payload.PhoneNumber),
			zap.String("call_status", payload.CallStatus),
			zap.Error(err),
		)
		return apperrors.NewFatal(err, "call event validation failed")
	}

	// Extract profile ID
	profileID, err := profile.FromContext(ctx)
	if err != nil || profileID == "" {
		log.Error("Failed to get profile ID from context", zap.Error(err))
		return apperrors.NewFatal(err, "failed to get profile ID from context")
	}

	// Validate that the payload's profile matches the consumer's profile
	if err := validateProfileScope(ctx, payload.ProfileID); err != nil {
		log.Error("Profile validation failed for call event",
			zap.String("phone_number", payload.PhoneNumber),
			zap.String("payload_profile_id", payload.ProfileID),
			zap.String("context_profile_id", profileID),
			zap.Error(err),
		)
		return apperrors.NewFatal(err, "call event profile mismatch")
	}

	entry := payloadToEntry(payload, profileID, metadataToJSON(metadata))

	if err := s.callRepo.Save(ctx, entry); err != nil {
		logFields := []zap.Field{
			zap.String("phone_number", entry.PhoneNumber),
			zap.String("call_status", entry.CallStatus),
			zap.Error(err),
		}
		if errors.Is(err, apperrors.ErrDatabase) || errors.Is(err, apperrors.ErrTimeout) || errors.Is(err, apperrors.ErrConflict) {
			log.Warn("Potentially retryable error saving call entry", logFields...)
			return apperrors.NewRetryable(err, "retryable repository error saving call entry")
		}
		log.Error("Fatal error saving call entry", logFields...)
		return apperrors.NewFatal(err, "fatal repository error saving call entry")
	}

	// Hand off post-persist work to the worker pool. A full queue must not
	// fail the already persisted event, so errors are only logged.
	if s.ingestWorker != nil {
		task := IngestTaskData{
			Ctx:   context.WithoutCancel(ctx),
			Entry: entry,
		}
		if submitErr := s.ingestWorker.SubmitTask(task); submitErr != nil {
			log.Warn("Failed to submit ingest task, refreshing journal directly",
				zap.String("phone_number", entry.PhoneNumber),
				zap.Error(submitErr),
			)
			s.journal.NotifyAppended()
		}
	} else {
		s.journal.NotifyAppended()
	}

	log.Info("Successfully recorded call entry",
		zap.String("phone_number", entry.PhoneNumber),
		zap.String("call_status", entry.CallStatus),
		zap.String("direction", entry.Direction),
	)
	return nil
}

// ProcessHistoricalCalls handles the bulk backfill of a profile's call log.
func (s *CallEventService) ProcessHistoricalCalls(ctx context.Context, payload model.HistoryCallPayload, metadata *model.LastMetadata) error {
	log := logger.FromContext(ctx)
	start := utils.Now()

	if len(payload.Calls) == 0 {
		log.Warn("No calls to process in historical calls payload")
		return nil
	}

	// Extract profile ID
	profileID, err := profile.FromContext(ctx)
	if err != nil || profileID == "" {
		log.Error("Failed to get profile ID from context", zap.Error(err))
		return apperrors.NewFatal(err, "failed to get profile ID from context")
	}

	metadataJSON := metadataToJSON(metadata)

	entries := make([]model.CallHistoryEntry, 0, len(payload.Calls))
	for i, call := range payload.Calls {
		if err := validator.Validate(call); err != nil {
			log.Error("Validation failed for historical call",
				zap.String("phone_number", call.PhoneNumber),
				zap.Int("index", i),
				zap.Error(err),
			)
			// Validation error is fatal
			return apperrors.NewFatal(err, "validation failed for historical call at index %d", i)
		}

		if err := validateProfileScope(ctx, call.ProfileID); err != nil {
			log.Error("Profile validation failed for historical call",
				zap.String("phone_number", call.PhoneNumber),
				zap.String("payload_profile_id", call.ProfileID),
				zap.String("context_profile_id", profileID),
				zap.Int("index", i),
				zap.Error(err),
			)
			return apperrors.NewFatal(err, "profile validation failed for historical call at index %d", i)
		}

		entries = append(entries, payloadToEntry(call, profileID, metadataJSON))
	}

	if err := s.callRepo.BulkInsert(ctx, entries); err != nil {
		logFields := []zap.Field{
			zap.Int("count", len(entries)),
			zap.Error(err),
		}
		if errors.Is(err, apperrors.ErrDatabase) || errors.Is(err, apperrors.ErrTimeout) || errors.Is(err, apperrors.ErrConflict) {
			log.Warn("Potentially retryable error during historical call bulk insert", logFields...)
			return apperrors.NewRetryable(err, "retryable repository error processing historical calls")
		}
		log.Error("Fatal error during historical call bulk insert", logFields...)
		return apperrors.NewFatal(err, "fatal repository error processing historical calls")
	}

	// One refresh per batch is enough; per-entry contact matching is skipped
	// for backfill volumes.
	s.journal.NotifyAppended()

	log.Info("Successfully processed historical calls",
		zap.Int("count", len(entries)),
		zap.Bool("is_last_batch", payload.IsLastBatch),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
