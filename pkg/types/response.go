package types

import "encoding/json"

// Ack is embedded in every success body so clients can branch on a single flag.
type Ack struct {
	Success bool `json:"success"`
}

// OK returns a successful acknowledgement.
func OK() Ack {
	return Ack{Success: true}
}

type ErrorEnvelope struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
	Details   any    `json:"details,omitempty"`
}

// DraftRef answers create/update/submit actions on /draft.
type DraftRef struct {
	Ack
	Code             string `json:"code"`
	ExternalRecordID string `json:"externalRecordId,omitempty"`
}

// DraftSession answers GET /draft?code=.
type DraftSession struct {
	Ack
	Code             string          `json:"code"`
	ExternalRecordID string          `json:"externalRecordId,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	Step             int             `json:"step"`
	Status           string          `json:"status"`
	Locale           string          `json:"locale,omitempty"`
}

type UploadResult struct {
	Ack
	URLs     []string `json:"urls"`
	FileName string   `json:"fileName"`
}

type SubmitResult struct {
	Ack
	ItemID string `json:"itemId"`
}

// ContactHints are denormalized contact fields stored beside a draft for staff lookup.
type ContactHints struct {
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// DraftRequest is the body of POST /draft.
type DraftRequest struct {
	Action           string          `json:"action" validate:"required,oneof=create update submit"`
	Code             string          `json:"code,omitempty" validate:"omitempty,resumecode"`
	ExternalRecordID string          `json:"externalRecordId,omitempty" validate:"omitempty,max=128"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Step             int             `json:"step" validate:"gte=0,lte=64"`
	ContactHints     ContactHints    `json:"contactHints"`
	Locale           string          `json:"locale,omitempty" validate:"omitempty,max=16"`
}

// SubmitRequest is the body of POST /submit.
type SubmitRequest struct {
	Payload          json.RawMessage `json:"payload" validate:"required"`
	Code             string          `json:"code,omitempty" validate:"omitempty,resumecode"`
	ExternalRecordID string          `json:"externalRecordId,omitempty" validate:"omitempty,max=128"`
	Locale           string          `json:"locale,omitempty" validate:"omitempty,max=16"`
}
