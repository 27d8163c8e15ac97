package model

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

// Test data factories. Each factory returns a fully populated value that
// passes validation; override fields in the caller as needed.

// NewFakeContact creates a Contact with realistic fake data. The phone number
// is generated as a bare 10-digit string so it is already normalized.
func NewFakeContact() Contact {
	return Contact{
		ID:          uuid.New().String(),
		Name:        gofakeit.Name(),
		PhoneNumber: fakeTenDigitNumber(),
		CreatedAt:   time.Now().UTC(),
	}
}

// NewFakeCallEntry creates a CallHistoryEntry with realistic fake data,
// timestamped within the last week.
func NewFakeCallEntry(profileID string) CallHistoryEntry {
	ts := time.Now().UTC().Add(-time.Duration(gofakeit.Number(0, 7*24)) * time.Hour)
	return CallHistoryEntry{
		PhoneNumber: fakeTenDigitNumber(),
		CallerName:  gofakeit.Name(),
		CallStatus:  gofakeit.RandomString([]string{CallStatusMissed, CallStatusRejected, "completed"}),
		Direction:   gofakeit.RandomString([]string{CallDirectionIncoming, CallDirectionOutgoing}),
		Timestamp:   &ts,
		ProfileID:   profileID,
	}
}

// NewFakeCallEventPayload creates a CallEventPayload for ingest tests.
func NewFakeCallEventPayload(profileID string) CallEventPayload {
	return CallEventPayload{
		PhoneNumber: fakeTenDigitNumber(),
		CallerName:  gofakeit.Name(),
		CallStatus:  gofakeit.RandomString([]string{CallStatusMissed, CallStatusRejected, "completed"}),
		Direction:   gofakeit.RandomString([]string{CallDirectionIncoming, CallDirectionOutgoing}),
		Timestamp:   time.Now().UTC().Unix(),
		ProfileID:   profileID,
		DurationSec: int64(gofakeit.Number(0, 3600)),
	}
}

func fakeTenDigitNumber() string {
	// Area codes never start with 0 or 1.
	return fmt.Sprintf("%d%09d", gofakeit.Number(2, 9), gofakeit.Number(0, 999999999))
}
