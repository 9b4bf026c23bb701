package wizard

import (
	"context"
	"io"

	"github.com/angelmondragon/intake-backend/internal/intake"
	"github.com/angelmondragon/intake-backend/pkg/enums"
	"github.com/angelmondragon/intake-backend/pkg/types"
)

// SessionRef identifies a persisted draft.
type SessionRef struct {
	Code             string
	ExternalRecordID string
}

// Session is a draft fetched by code.
type Session struct {
	Code             string
	ExternalRecordID string
	Payload          intake.Payload
	Step             int
	Status           enums.DraftStatus
	Locale           string
}

// CreateRequest asks the store for a new draft and its resume code.
type CreateRequest struct {
	Payload      intake.Payload
	Step         int
	ContactHints types.ContactHints
	Locale       string
}

// UpdateRequest saves a snapshot over the draft stored under Code.
type UpdateRequest struct {
	Code             string
	ExternalRecordID string
	Payload          intake.Payload
	Step             int
	ContactHints     types.ContactHints
	Locale           string
}

// File is one user-selected upload. Body is read once.
type File struct {
	Name string
	Size int64
	Body io.Reader
}

// Upload is the stored reference for a file and its original name.
type Upload struct {
	URLs     []string
	FileName string
}

// Submission is the finished payload sent for finalization. Code and
// ExternalRecordID let the finalizer recognise a repeat.
type Submission struct {
	Payload          intake.Payload
	Code             string
	ExternalRecordID string
	Locale           string
}

// SessionStore persists drafts keyed by resume code. Update may return an
// external record id the caller did not send; callers adopt it.
type SessionStore interface {
	Create(ctx context.Context, req CreateRequest) (SessionRef, error)
	Update(ctx context.Context, req UpdateRequest) (SessionRef, error)
	FetchByCode(ctx context.Context, code string) (*Session, error)
	Finalize(ctx context.Context, code, externalRecordID string) error
}

// AttachmentStore uploads one file labelled with its owner.
type AttachmentStore interface {
	Upload(ctx context.Context, owner string, file File) (*Upload, error)
}

// Finalizer turns a complete payload into a permanent record and returns its id.
type Finalizer interface {
	Submit(ctx context.Context, sub Submission) (string, error)
}

// Lookup resolves localized strings. Unknown keys are returned unchanged.
type Lookup interface {
	Text(key string) string
	EnumLabel(enum, value string) string
}

type keyLookup struct{}

func (keyLookup) Text(key string) string { return key }
func (keyLookup) EnumLabel(_, value string) string { return value }
