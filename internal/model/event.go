package model

import (
	"strings"
	"time"
)

// EventType represents different types of events
type EventType string

// Common event type constants (with versioning)
const (
	// Version 1 realtime event types
	V1CallEnded    EventType = "v1.calls.ended"
	V1CallMissed   EventType = "v1.calls.missed"
	V1CallRejected EventType = "v1.calls.rejected"
	// Version 1 historical event types (backfill of a profile's call log)
	V1HistoricalCalls EventType = "v1.history.calls"
)

// MapToBaseEventType attempts to map an input string (potentially carrying a
// trailing profile identifier) back to a known base EventType constant.
// It returns the mapped EventType and true if successful, or an empty
// EventType ("") and false if no mapping is found.
func MapToBaseEventType(input string) (EventType, bool) {
	// Direct match first; the input may already be the base type.
	switch EventType(input) {
	case V1CallEnded, V1CallMissed, V1CallRejected, V1HistoricalCalls:
		return EventType(input), true
	}

	// If no direct match, try stripping the last component after the final dot.
	lastDotIndex := strings.LastIndex(input, ".")
	if lastDotIndex <= 0 {
		return "", false
	}

	switch base := EventType(input[:lastDotIndex]); base {
	case V1CallEnded, V1CallMissed, V1CallRejected, V1HistoricalCalls:
		return base, true
	default:
		return "", false
	}
}

// MessageMetadata carries NATS delivery metadata alongside a consumed event.
type MessageMetadata struct {
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	NumPending       uint64
	Timestamp        time.Time
	Stream           string
	Consumer         string
	Domain           string
	MessageID        string
	MessageSubject   string
	ProfileID        string
}

// ToLastMetadata converts MessageMetadata to LastMetadata
func (e MessageMetadata) ToLastMetadata() *LastMetadata {
	return &LastMetadata{
		ConsumerSequence: int64(e.ConsumerSequence),
		StreamSequence:   int64(e.StreamSequence),
		Stream:           e.Stream,
		Consumer:         e.Consumer,
		Domain:           e.Domain,
		MessageID:        e.MessageID,
		MessageSubject:   e.MessageSubject,
		ProfileID:        e.ProfileID,
	}
}

// GetVersion extracts the version from an event type
// Returns the version string (e.g., "v1") or an empty string if no version specified
func (e EventType) GetVersion() string {
	parts := strings.SplitN(string(e), ".", 2)
	if len(parts) < 2 {
		return ""
	}

	// Check if the first part starts with 'v' followed by a number
	if len(parts[0]) >= 2 && parts[0][0] == 'v' {
		return parts[0]
	}

	return ""
}

// GetBaseType returns the event type without the version prefix
// For example: "v1.calls.ended" -> "calls.ended"
func (e EventType) GetBaseType() EventType {
	version := e.GetVersion()
	if version == "" {
		return e
	}

	return EventType(strings.TrimPrefix(string(e), version+"."))
}

// LastMetadata is the ingest envelope persisted with each call-history entry.
type LastMetadata struct {
	ConsumerSequence int64  `json:"consumer_sequence"`
	StreamSequence   int64  `json:"stream_sequence"`
	Stream           string `json:"stream"`
	Consumer         string `json:"consumer"`
	Domain           string `json:"domain"`
	MessageID        string `json:"message_id"`
	MessageSubject   string `json:"message_subject"`
	ProfileID        string `json:"profile_id"`
}
