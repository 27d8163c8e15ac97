package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Call status tags as written by the call-handling subsystem. Any tag not
// listed here is treated as a completed call.
const (
	CallStatusMissed   = "missed"
	CallStatusRejected = "rejected"
)

// Call direction tags. Anything other than "incoming" is treated as outgoing.
const (
	CallDirectionIncoming = "incoming"
	CallDirectionOutgoing = "outgoing"
)

// CallHistoryEntry represents one completed call in the PostgreSQL database.
// Entries are append-only: the external call-handling subsystem writes them
// on call completion and the directory layer only ever reads or bulk-clears.
type CallHistoryEntry struct {
	ID           int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	PhoneNumber  string         `json:"phone_number" gorm:"type:text;index" validate:"required"`
	CallerName   string         `json:"caller_name,omitempty" gorm:"type:text"`
	CallStatus   string         `json:"call_status,omitempty" gorm:"type:text"`
	Direction    string         `json:"direction,omitempty" gorm:"type:text"`
	Timestamp    *time.Time     `json:"timestamp,omitempty" gorm:"index"` // nullable; absent timestamps render as "Unknown"
	ProfileID    string         `json:"profile_id" gorm:"type:text;index" validate:"required"`
	LastMetadata datatypes.JSON `json:"last_metadata,omitempty" gorm:"type:jsonb;column:last_metadata"`
	CreatedAt    time.Time      `json:"created_at,omitempty" gorm:"autoCreateTime"`
}

// TableName specifies the table name for the CallHistoryEntry model, respecting the Namer.
func (CallHistoryEntry) TableName(namer schema.Namer) string {
	return namer.TableName("call_history")
}

// IsMissed reports whether the entry records a missed call.
func (e CallHistoryEntry) IsMissed() bool {
	return e.CallStatus == CallStatusMissed
}

// IsRejected reports whether the entry records a rejected call.
func (e CallHistoryEntry) IsRejected() bool {
	return e.CallStatus == CallStatusRejected
}

// IsIncoming reports whether the call was inbound. Unknown direction tags
// are treated as outgoing.
func (e CallHistoryEntry) IsIncoming() bool {
	return e.Direction == CallDirectionIncoming
}
