package model

import (
	"encoding/json"
	"time"
)

// --- Call NATS Payload --- //

// CallEventPayload is the payload published by the call-handling subsystem
// when a call completes. Timestamp is a unix epoch in seconds; zero means the
// caller could not supply one and the entry renders as "Unknown".
type CallEventPayload struct {
	PhoneNumber string `json:"phone_number,omitempty" validate:"required"`
	CallerName  string `json:"caller_name,omitempty" validate:"omitempty"`
	CallStatus  string `json:"call_status,omitempty" validate:"omitempty"`
	Direction   string `json:"direction,omitempty" validate:"omitempty,oneof=incoming outgoing"`
	Timestamp   int64  `json:"timestamp,omitempty" validate:"omitempty,gte=0"`
	ProfileID   string `json:"profile_id,omitempty" validate:"required"`
	DurationSec int64  `json:"duration_sec,omitempty" validate:"omitempty,gte=0"`
}

// HistoryCallPayload is the batched backfill payload for a profile's call log.
type HistoryCallPayload struct {
	Calls       []CallEventPayload `json:"calls" validate:"required,dive,required"`
	IsLastBatch bool               `json:"is_last_batch,omitempty"`
}

// --- DLQ Payload --- //

// DLQPayload represents the structure of messages sent to the Dead Letter Queue.
type DLQPayload struct {
	SourceSubject   string          `json:"source_subject"`   // The original subject the message was published to
	ProfileID       string          `json:"profile_id"`       // The profile the message is scoped to
	OriginalPayload json.RawMessage `json:"original_payload"` // The raw JSON payload of the original message
	Error           string          `json:"error"`            // The full error message encountered during processing
	ErrorType       string          `json:"error_type"`       // Type of error ('fatal', 'retryable', 'unknown')
	RetryCount      uint64          `json:"retry_count"`      // How many times delivery was attempted
	MaxRetry        int             `json:"max_retry"`        // The configured maximum delivery attempts for the consumer
	Timestamp       time.Time       `json:"ts"`               // Timestamp when the message was sent to the DLQ
}
