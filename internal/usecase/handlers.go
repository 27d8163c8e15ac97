package usecase

import (
	"context"

	apperrors "gitlab.com/voxline/api/voxline-call-directory/internal/apperrors"
	"gitlab.com/voxline/api/voxline-call-directory/internal/model"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/logger"
	"gitlab.com/voxline/api/voxline-call-directory/pkg/utils"
	"go.uber.org/zap"
)

// statusForEventType derives the stored call status when the publisher did
// not set one explicitly.
func statusForEventType(eventType model.EventType) string {
	switch eventType {
	case model.V1CallEnded:
		return "answered"
	case model.V1CallMissed:
		return "missed"
	case model.V1CallRejected:
		return "rejected"
	default:
		return ""
	}
}

// HandleRealtimeCallEvent unmarshals a realtime call event and records it.
func (s *CallEventService) HandleRealtimeCallEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var payload model.CallEventPayload
	if err := utils.UnmarshalJSON(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal call event payload",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
		// Malformed payloads never succeed on redelivery
		return apperrors.NewFatal(err, "failed to unmarshal call event payload")
	}

	if payload.CallStatus == "" {
		payload.CallStatus = statusForEventType(eventType)
	}

	var lastMetadata *model.LastMetadata
	if metadata != nil {
		lastMetadata = metadata.ToLastMetadata()
	}

	return s.RecordCall(ctx, payload, lastMetadata)
}

// HandleHistoricalCalls unmarshals a call-log backfill batch and persists it.
func (s *CallEventService) HandleHistoricalCalls(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	var payload model.HistoryCallPayload
	if err := utils.UnmarshalJSON(rawEvent, &payload); err != nil {
		log.Error("Failed to unmarshal historical calls payload",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
		return apperrors.NewFatal(err, "failed to unmarshal historical calls payload")
	}

	var lastMetadata *model.LastMetadata
	if metadata != nil {
		lastMetadata = metadata.ToLastMetadata()
	}

	return s.ProcessHistoricalCalls(ctx, payload, lastMetadata)
}
