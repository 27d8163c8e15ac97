package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Contact represents a directory contact in the PostgreSQL database.
// PhoneNumber is stored pre-normalized (see pkg/phone) and is unique per
// profile schema; duplicate inserts fail without mutating the store.
type Contact struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text"`
	Name         string    `json:"name" gorm:"type:text"`
	PhoneNumber  string    `json:"phone_number" gorm:"type:text" validate:"required"`
	ProfileImage []byte    `json:"profile_image,omitempty" gorm:"type:bytea"`
	CreatedAt    time.Time `json:"created_at,omitempty" gorm:"autoCreateTime"`
}

// TableName specifies the table name for the Contact model, respecting the Namer.
func (Contact) TableName(namer schema.Namer) string {
	return namer.TableName("contacts")
}
