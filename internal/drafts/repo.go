package drafts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/intake-backend/internal/repo"
	"github.com/angelmondragon/intake-backend/pkg/db"
	"github.com/angelmondragon/intake-backend/pkg/db/models"
	"github.com/angelmondragon/intake-backend/pkg/enums"
)

const (
	// CodeConstraint is the unique index guarding resume codes.
	CodeConstraint = "intake_sessions_code_key"
	// sqlite reports unique failures by column rather than index name.
	codeColumn = "intake_sessions.code"
)

func isCodeCollision(err error) bool {
	return db.IsUniqueViolation(err, CodeConstraint) || db.IsUniqueViolation(err, codeColumn)
}

// Repository exposes persistence helpers for intake sessions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, session *models.IntakeSession) error
	FindByCode(ctx context.Context, code string) (*models.IntakeSession, error)
	FindByCodeForUpdate(ctx context.Context, code string) (*models.IntakeSession, error)
	SaveDraft(ctx context.Context, session *models.IntakeSession) (bool, error)
	MarkSubmitted(ctx context.Context, id uuid.UUID, externalRecordID string, at time.Time) (bool, error)
	SetExternalIDIfEmpty(ctx context.Context, id uuid.UUID, externalRecordID string) (bool, error)
	ListWithoutExternalID(ctx context.Context, limit int) ([]models.IntakeSession, error)
	DeleteStaleDrafts(ctx context.Context, before time.Time) (int64, error)
}

type repositoryImpl struct {
	repo.Base
}

// NewRepository returns a drafts repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{Base: repo.NewBase(db)}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	return &repositoryImpl{Base: r.Base.WithTx(tx)}
}

func (r *repositoryImpl) Create(ctx context.Context, session *models.IntakeSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.Status == "" {
		session.Status = enums.DraftStatusDraft
	}
	return r.DB(ctx).Create(session).Error
}

// FindByCode returns gorm.ErrRecordNotFound when no session matches.
func (r *repositoryImpl) FindByCode(ctx context.Context, code string) (*models.IntakeSession, error) {
	var session models.IntakeSession
	if err := r.DB(ctx).Where("code = ?", code).First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByCodeForUpdate locks the row for the surrounding transaction. sqlite
// ignores the locking clause.
func (r *repositoryImpl) FindByCodeForUpdate(ctx context.Context, code string) (*models.IntakeSession, error) {
	var session models.IntakeSession
	err := r.DB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// SaveDraft writes the editable columns of a draft row and reports whether a
// row was written. Submitted rows are left untouched.
func (r *repositoryImpl) SaveDraft(ctx context.Context, session *models.IntakeSession) (bool, error) {
	updates := map[string]any{
		"payload":       session.Payload,
		"step":          session.Step,
		"contact_name":  session.ContactName,
		"contact_email": session.ContactEmail,
		"contact_phone": session.ContactPhone,
		"updated_at":    time.Now().UTC(),
	}
	if session.Locale != "" {
		updates["locale"] = session.Locale
	}
	if session.HasExternalRecord() {
		updates["external_record_id"] = session.ExternalID()
	}
	res := r.Model(ctx, &models.IntakeSession{}).
		Where("id = ? AND status = ?", session.ID, enums.DraftStatusDraft).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkSubmitted transitions a draft to submitted and reports whether this
// call performed the transition.
func (r *repositoryImpl) MarkSubmitted(ctx context.Context, id uuid.UUID, externalRecordID string, at time.Time) (bool, error) {
	result := r.Model(ctx, &models.IntakeSession{}).
		Where("id = ? AND status = ?", id, enums.DraftStatusDraft).
		Updates(map[string]any{
			"status":             enums.DraftStatusSubmitted,
			"external_record_id": externalRecordID,
			"submitted_at":       at,
			"updated_at":         at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SetExternalIDIfEmpty stores the backing record id unless one is already set.
func (r *repositoryImpl) SetExternalIDIfEmpty(ctx context.Context, id uuid.UUID, externalRecordID string) (bool, error) {
	result := r.Model(ctx, &models.IntakeSession{}).
		Where("id = ? AND (external_record_id IS NULL OR external_record_id = '')", id).
		Updates(map[string]any{
			"external_record_id": externalRecordID,
			"updated_at":         time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListWithoutExternalID returns the oldest drafts that still lack a backing record.
func (r *repositoryImpl) ListWithoutExternalID(ctx context.Context, limit int) ([]models.IntakeSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var sessions []models.IntakeSession
	err := r.DB(ctx).
		Where("status = ? AND (external_record_id IS NULL OR external_record_id = '')", enums.DraftStatusDraft).
		Order("created_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// DeleteStaleDrafts removes drafts last touched before the cutoff.
func (r *repositoryImpl) DeleteStaleDrafts(ctx context.Context, before time.Time) (int64, error) {
	result := r.DB(ctx).
		Where("status = ? AND updated_at < ?", enums.DraftStatusDraft, before).
		Delete(&models.IntakeSession{})
	return result.RowsAffected, result.Error
}
