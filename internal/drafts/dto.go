package drafts

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/intake-backend/pkg/db/models"
	"github.com/angelmondragon/intake-backend/pkg/enums"
	"github.com/angelmondragon/intake-backend/pkg/types"
)

type CreateInput struct {
	Payload      json.RawMessage
	Step         int
	ContactHints types.ContactHints
	Locale       string
}

// UpdateInput carries the caller's view of a draft. ExternalRecordID is
// adopted by the row when the row has none.
type UpdateInput struct {
	Code             string
	ExternalRecordID string
	Payload          json.RawMessage
	Step             int
	ContactHints     types.ContactHints
	Locale           string
}

type Ref struct {
	Code             string
	ExternalRecordID string
}

type Session struct {
	Code             string
	ExternalRecordID string
	Payload          json.RawMessage
	Step             int
	Status           enums.DraftStatus
	Locale           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	SubmittedAt      *time.Time
}

func sessionFromModel(m *models.IntakeSession) *Session {
	return &Session{
		Code:             m.Code,
		ExternalRecordID: m.ExternalID(),
		Payload:          m.Payload,
		Step:             m.Step,
		Status:           m.Status,
		Locale:           m.Locale,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		SubmittedAt:      m.SubmittedAt,
	}
}
