package drafts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/intake-backend/internal/intake"
	"github.com/angelmondragon/intake-backend/internal/notifications"
	"github.com/angelmondragon/intake-backend/pkg/crm"
	"github.com/angelmondragon/intake-backend/pkg/db/models"
	"github.com/angelmondragon/intake-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/logger"
	"github.com/angelmondragon/intake-backend/pkg/metrics"
)

const (
	defaultMaxCodeAttempts = 5
	maxPayloadBytes        = 256 << 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// BackingRecords creates and refreshes the CRM item shadowing a draft.
type BackingRecords interface {
	UpsertDraft(ctx context.Context, rec crm.DraftRecord) (string, error)
}

type submissionNotifier interface {
	IntakeSubmitted(ctx context.Context, evt notifications.Event) error
}

// Service implements the draft persistence protocol keyed by resume code.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*Ref, error)
	Update(ctx context.Context, input UpdateInput) (*Ref, error)
	FetchByCode(ctx context.Context, code string) (*Session, error)
	Finalize(ctx context.Context, code, externalRecordID string) (*Ref, error)
	PurgeStale(ctx context.Context, before time.Time) (int64, error)
	ListUnsynced(ctx context.Context, limit int) ([]Session, error)
	AttachExternalID(ctx context.Context, code string) (string, error)
}

type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	CRM      BackingRecords
	Notifier submissionNotifier
	Metrics  *metrics.IntakeMetrics
	Logger   *logger.Logger
	// CodeLength defaults to intake.DefaultCodeLength.
	CodeLength      int
	MaxCodeAttempts int
	Now             func() time.Time
}

type service struct {
	repo            Repository
	tx              txRunner
	crm             BackingRecords
	notifier        submissionNotifier
	metrics         *metrics.IntakeMetrics
	logg            *logger.Logger
	codeLength      int
	maxCodeAttempts int
	now             func() time.Time
}

// NewService wires draft dependencies. CRM and Notifier are optional.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "drafts repository required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	svc := &service{
		repo:            params.Repo,
		tx:              params.Tx,
		crm:             params.CRM,
		notifier:        params.Notifier,
		metrics:         params.Metrics,
		logg:            params.Logger,
		codeLength:      params.CodeLength,
		maxCodeAttempts: params.MaxCodeAttempts,
		now:             params.Now,
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.codeLength <= 0 {
		svc.codeLength = intake.DefaultCodeLength
	}
	if svc.maxCodeAttempts <= 0 {
		svc.maxCodeAttempts = defaultMaxCodeAttempts
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (ref *Ref, err error) {
	defer func() { s.record(enums.DraftActionCreate.String(), err) }()

	payload, err := normalizePayload(input.Payload)
	if err != nil {
		return nil, err
	}

	var row *models.IntakeSession
	for attempt := 1; attempt <= s.maxCodeAttempts; attempt++ {
		code, genErr := intake.GenerateCode(s.codeLength)
		if genErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, genErr, "generate resume code")
		}
		candidate := &models.IntakeSession{
			Code:         code,
			Payload:      payload,
			Step:         normalizeStep(input.Step),
			Status:       enums.DraftStatusDraft,
			Locale:       strings.TrimSpace(input.Locale),
			ContactName:  input.ContactHints.FullName,
			ContactEmail: input.ContactHints.Email,
			ContactPhone: input.ContactHints.Phone,
		}
		createErr := s.repo.Create(ctx, candidate)
		if createErr == nil {
			row = candidate
			break
		}
		if isCodeCollision(createErr) {
			s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "drafts.code.collision")
			continue
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, createErr, "create draft")
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique resume code").
			WithDetails(map[string]any{"attempts": s.maxCodeAttempts})
	}

	lctx := s.logg.WithCode(ctx, row.Code)
	s.logg.Info(lctx, "drafts.created")
	externalID, syncErr := s.ensureBackingRecord(lctx, row)
	if syncErr != nil {
		s.logg.WarnErr(lctx, "drafts.backing_record.failed", syncErr)
	}
	return &Ref{Code: row.Code, ExternalRecordID: externalID}, nil
}

func (s *service) Update(ctx context.Context, input UpdateInput) (ref *Ref, err error) {
	defer func() { s.record(enums.DraftActionUpdate.String(), err) }()

	row, err := s.find(ctx, input.Code)
	if err != nil {
		return nil, err
	}
	if row.Status == enums.DraftStatusSubmitted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "draft already submitted").
			WithDetails(map[string]any{"code": row.Code})
	}
	if len(bytes.TrimSpace(input.Payload)) > 0 {
		payload, err := normalizePayload(input.Payload)
		if err != nil {
			return nil, err
		}
		row.Payload = payload
	}
	row.Step = normalizeStep(input.Step)
	if hints := input.ContactHints; hints.FullName != "" || hints.Email != "" || hints.Phone != "" {
		row.ContactName = hints.FullName
		row.ContactEmail = hints.Email
		row.ContactPhone = hints.Phone
	}
	if locale := strings.TrimSpace(input.Locale); locale != "" {
		row.Locale = locale
	}
	if supplied := strings.TrimSpace(input.ExternalRecordID); supplied != "" && !row.HasExternalRecord() {
		row.ExternalRecordID = &supplied
	}

	saved, err := s.repo.SaveDraft(ctx, row)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "update draft")
	}
	if !saved {
		// Finalized between the read and the write.
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "draft already submitted").
			WithDetails(map[string]any{"code": row.Code})
	}

	lctx := s.logg.WithCode(ctx, row.Code)
	externalID, syncErr := s.ensureBackingRecord(lctx, row)
	if syncErr != nil {
		s.logg.WarnErr(lctx, "drafts.backing_record.failed", syncErr)
	}
	return &Ref{Code: row.Code, ExternalRecordID: externalID}, nil
}

func (s *service) FetchByCode(ctx context.Context, code string) (session *Session, err error) {
	defer func() { s.record("fetch", err) }()

	row, err := s.find(ctx, code)
	if err != nil {
		return nil, err
	}
	return sessionFromModel(row), nil
}

// Finalize marks a draft submitted. Repeating the call with the same record
// id is a no-op; a different id on a submitted draft is a conflict.
func (s *service) Finalize(ctx context.Context, code, externalRecordID string) (ref *Ref, err error) {
	defer func() { s.record(enums.DraftActionSubmit.String(), err) }()

	externalRecordID = strings.TrimSpace(externalRecordID)
	if externalRecordID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "externalRecordId is required to finalize")
	}
	normalized := intake.NormalizeCode(code)
	if !intake.ValidCode(normalized) {
		return nil, notFound(normalized)
	}

	var (
		row         *models.IntakeSession
		transitions bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		found, findErr := repo.FindByCodeForUpdate(ctx, normalized)
		if findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				return notFound(normalized)
			}
			return pkgerrors.Wrap(pkgerrors.CodePersistence, findErr, "load draft")
		}
		row = found
		if row.Status == enums.DraftStatusSubmitted {
			if row.ExternalID() == externalRecordID {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeConflict, "draft already submitted with another record").
				WithDetails(map[string]any{"code": normalized})
		}
		now := s.now()
		updated, markErr := repo.MarkSubmitted(ctx, row.ID, externalRecordID, now)
		if markErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, markErr, "mark draft submitted")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeConflict, "draft changed during finalization")
		}
		transitions = true
		row.Status = enums.DraftStatusSubmitted
		row.ExternalRecordID = &externalRecordID
		row.SubmittedAt = &now
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodePersistence, err, "finalize draft")
		}
		return nil, err
	}

	lctx := s.logg.WithCode(ctx, row.Code)
	if transitions {
		s.logg.Info(lctx, "drafts.submitted")
		s.notifySubmitted(lctx, row)
	}
	return &Ref{Code: row.Code, ExternalRecordID: externalRecordID}, nil
}

func (s *service) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	deleted, err := s.repo.DeleteStaleDrafts(ctx, before)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "purge stale drafts")
	}
	return deleted, nil
}

func (s *service) ListUnsynced(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.repo.ListWithoutExternalID(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list unsynced drafts")
	}
	out := make([]Session, 0, len(rows))
	for i := range rows {
		out = append(out, *sessionFromModel(&rows[i]))
	}
	return out, nil
}

// AttachExternalID creates the CRM backing record of a draft that lacks one.
// Unlike create and update, CRM failures are returned.
func (s *service) AttachExternalID(ctx context.Context, code string) (string, error) {
	row, err := s.find(ctx, code)
	if err != nil {
		return "", err
	}
	if row.HasExternalRecord() {
		return row.ExternalID(), nil
	}
	if s.crm == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "crm client not configured")
	}
	return s.ensureBackingRecord(s.logg.WithCode(ctx, row.Code), row)
}

func (s *service) find(ctx context.Context, code string) (*models.IntakeSession, error) {
	normalized := intake.NormalizeCode(code)
	if normalized == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "code is required")
	}
	if !intake.ValidCode(normalized) {
		return nil, notFound(normalized)
	}
	row, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(normalized)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load draft")
	}
	return row, nil
}

// ensureBackingRecord returns the row's CRM item id, creating the item when
// missing. A concurrent writer that stored an id first wins.
func (s *service) ensureBackingRecord(ctx context.Context, row *models.IntakeSession) (string, error) {
	if row.HasExternalRecord() || s.crm == nil {
		return row.ExternalID(), nil
	}
	itemID, err := s.crm.UpsertDraft(ctx, crm.DraftRecord{
		Code:   row.Code,
		Name:   row.ContactName,
		Email:  row.ContactEmail,
		Phone:  row.ContactPhone,
		Locale: row.Locale,
		Step:   row.Step,
	})
	if err != nil {
		return "", err
	}
	if itemID == "" {
		return "", nil
	}
	stored, err := s.repo.SetExternalIDIfEmpty(ctx, row.ID, itemID)
	if err != nil {
		// The caller still adopts the id and sends it back on the next update.
		s.logg.WarnErr(ctx, "drafts.backing_record.store_failed", err)
		return itemID, nil
	}
	if !stored {
		current, err := s.repo.FindByCode(ctx, row.Code)
		if err == nil && current.HasExternalRecord() {
			return current.ExternalID(), nil
		}
	}
	row.ExternalRecordID = &itemID
	s.logg.Info(s.logg.WithField(ctx, "external_record_id", itemID), "drafts.backing_record.created")
	return itemID, nil
}

func (s *service) notifySubmitted(ctx context.Context, row *models.IntakeSession) {
	if s.notifier == nil {
		return
	}
	submittedAt := s.now()
	if row.SubmittedAt != nil {
		submittedAt = *row.SubmittedAt
	}
	err := s.notifier.IntakeSubmitted(ctx, notifications.Event{
		Code:             row.Code,
		ExternalRecordID: row.ExternalID(),
		Locale:           row.Locale,
		Email:            row.ContactEmail,
		FullName:         row.ContactName,
		SubmittedAt:      submittedAt,
	})
	if err != nil {
		s.logg.WarnErr(ctx, "drafts.notify.failed", err)
	}
}

func (s *service) record(action string, err error) {
	switch {
	case err == nil:
		s.metrics.DraftOperation(action, metrics.OutcomeSuccess)
	case isRejection(err):
		s.metrics.DraftOperation(action, metrics.OutcomeRejected)
	default:
		s.metrics.DraftOperation(action, metrics.OutcomeFailure)
	}
}

func isRejection(err error) bool {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeValidation, pkgerrors.CodeNotFound, pkgerrors.CodeStateConflict, pkgerrors.CodeConflict:
		return true
	}
	return false
}

func notFound(code string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "no draft matches this code").
		WithDetails(map[string]any{"code": code})
}

func normalizeStep(step int) int {
	if step < 1 {
		return 1
	}
	return step
}

func normalizePayload(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payload is required")
	}
	if len(trimmed) > maxPayloadBytes {
		return nil, pkgerrors.New(pkgerrors.CodePayloadTooBig, "payload too large").
			WithDetails(map[string]any{"maxBytes": maxPayloadBytes})
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payload must be a JSON object")
	}
	return json.RawMessage(trimmed), nil
}
