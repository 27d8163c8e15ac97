package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapToBaseEventType(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expected  EventType
		wantFound bool
	}{
		{"direct realtime match", "v1.calls.ended", V1CallEnded, true},
		{"direct historical match", "v1.history.calls", V1HistoricalCalls, true},
		{"with profile suffix", "v1.calls.ended.profile-abc", V1CallEnded, true},
		{"missed with suffix", "v1.calls.missed.default", V1CallMissed, true},
		{"rejected with suffix", "v1.calls.rejected.p1", V1CallRejected, true},
		{"history with suffix", "v1.history.calls.p1", V1HistoricalCalls, true},
		{"unknown subject", "v1.contacts.upsert", "", false},
		{"no dots", "garbage", "", false},
		{"empty", "", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, found := MapToBaseEventType(tc.input)
			assert.Equal(t, tc.wantFound, found)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestEventTypeVersionHelpers(t *testing.T) {
	assert.Equal(t, "v1", V1CallEnded.GetVersion())
	assert.Equal(t, EventType("calls.ended"), V1CallEnded.GetBaseType())

	unversioned := EventType("calls.ended")
	assert.Equal(t, "", unversioned.GetVersion())
	assert.Equal(t, unversioned, unversioned.GetBaseType())
}

func TestMessageMetadataToLastMetadata(t *testing.T) {
	meta := MessageMetadata{
		ConsumerSequence: 7,
		StreamSequence:   42,
		Stream:           "calls_stream",
		Consumer:         "calls_consumer",
		MessageID:        "msg-42",
		MessageSubject:   "v1.calls.ended.default",
		ProfileID:        "default",
	}

	last := meta.ToLastMetadata()
	assert.Equal(t, int64(7), last.ConsumerSequence)
	assert.Equal(t, int64(42), last.StreamSequence)
	assert.Equal(t, "calls_stream", last.Stream)
	assert.Equal(t, "msg-42", last.MessageID)
	assert.Equal(t, "default", last.ProfileID)
}
