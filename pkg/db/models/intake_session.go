package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/intake-backend/pkg/enums"
)

// IntakeSession is the persisted, resumable snapshot of one household intake.
// Code is stored upper-case so the unique index is case-insensitive in practice.
type IntakeSession struct {
	ID               uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Code             string            `gorm:"column:code;type:varchar(16);not null;uniqueIndex:intake_sessions_code_key"`
	ExternalRecordID *string           `gorm:"column:external_record_id;type:text"`
	Payload          json.RawMessage   `gorm:"column:payload;type:jsonb;not null"`
	Step             int               `gorm:"column:step;not null;default:1"`
	Status           enums.DraftStatus `gorm:"column:status;type:text;not null;default:draft"`
	Locale           string            `gorm:"column:locale;type:text"`
	ContactName      string            `gorm:"column:contact_name;type:text"`
	ContactEmail     string            `gorm:"column:contact_email;type:text"`
	ContactPhone     string            `gorm:"column:contact_phone;type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SubmittedAt      *time.Time
}

func (IntakeSession) TableName() string {
	return "intake_sessions"
}

// HasExternalRecord reports whether the CRM backing record id is known.
func (s *IntakeSession) HasExternalRecord() bool {
	return s != nil && s.ExternalRecordID != nil && *s.ExternalRecordID != ""
}

// ExternalID returns the CRM backing record id or an empty string.
func (s *IntakeSession) ExternalID() string {
	if !s.HasExternalRecord() {
		return ""
	}
	return *s.ExternalRecordID
}
