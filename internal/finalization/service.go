package finalization

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/angelmondragon/intake-backend/internal/intake"
	"github.com/angelmondragon/intake-backend/pkg/crm"
	pkgerrors "github.com/angelmondragon/intake-backend/pkg/errors"
	"github.com/angelmondragon/intake-backend/pkg/logger"
	"github.com/angelmondragon/intake-backend/pkg/metrics"
	"github.com/angelmondragon/intake-backend/pkg/redis"
)

const (
	lockScope      = "submit"
	defaultLockTTL = 2 * time.Minute
)

// Submitter forwards a completed intake to the CRM.
type Submitter interface {
	Submit(ctx context.Context, sub crm.Submission) (string, error)
}

// Locker builds per-code locks. *redis.Client satisfies it.
type Locker interface {
	redis.LockStore
	LockKey(scope, id string) string
}

type Input struct {
	Payload          json.RawMessage
	Code             string
	ExternalRecordID string
	Locale           string
}

type Service interface {
	Submit(ctx context.Context, input Input) (string, error)
}

type ServiceParams struct {
	CRM     Submitter
	Locks   Locker
	LockTTL time.Duration
	Metrics *metrics.IntakeMetrics
	Logger  *logger.Logger
}

type service struct {
	crm     Submitter
	locks   Locker
	lockTTL time.Duration
	metrics *metrics.IntakeMetrics
	logg    *logger.Logger
}

// NewService wires the finalization proxy. Locks is optional; without it
// concurrent submissions for the same code are not serialized.
func NewService(params ServiceParams) (Service, error) {
	if params.CRM == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "crm client required")
	}
	ttl := params.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		crm:     params.CRM,
		locks:   params.Locks,
		lockTTL: ttl,
		metrics: params.Metrics,
		logg:    logg,
	}, nil
}

func (s *service) Submit(ctx context.Context, input Input) (string, error) {
	itemID, err := s.submit(ctx, input)
	switch {
	case err == nil:
		s.metrics.Finalization(metrics.OutcomeSuccess)
	case pkgerrors.IsCode(err, pkgerrors.CodeFinalization):
		s.metrics.Finalization(metrics.OutcomeFailure)
	default:
		s.metrics.Finalization(metrics.OutcomeRejected)
	}
	return itemID, err
}

func (s *service) submit(ctx context.Context, input Input) (string, error) {
	code := intake.NormalizeCode(input.Code)
	if code != "" && !intake.ValidCode(code) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid code")
	}

	var payload intake.Payload
	if err := json.Unmarshal(input.Payload, &payload); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payload must be an intake object")
	}
	payload.Normalize()

	if code != "" {
		ctx = s.logg.WithCode(ctx, code)
		release, err := s.acquire(ctx, code)
		if err != nil {
			return "", err
		}
		defer release()
	}

	itemID, err := s.crm.Submit(ctx, crm.Submission{
		ItemID:         strings.TrimSpace(input.ExternalRecordID),
		Code:           code,
		Locale:         strings.TrimSpace(input.Locale),
		Name:           strings.TrimSpace(payload.Contact.FullName),
		Email:          strings.TrimSpace(payload.Contact.Email),
		Phone:          strings.TrimSpace(payload.Contact.Phone),
		Payload:        input.Payload,
		AttachmentURLs: payload.AttachmentRefs,
	})
	if err != nil {
		s.logg.Error(ctx, "finalization.crm_submit_failed", err)
		return "", pkgerrors.Wrap(pkgerrors.CodeFinalization, err, "submit intake")
	}
	if itemID == "" {
		return "", pkgerrors.New(pkgerrors.CodeFinalization, "crm returned no item id")
	}

	s.logg.Info(s.logg.WithField(ctx, "item_id", itemID), "finalization.submitted")
	return itemID, nil
}

func (s *service) acquire(ctx context.Context, code string) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	lock, err := redis.NewLock(s.locks, s.locks.LockKey(lockScope, code), s.lockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build submit lock")
	}
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire submit lock")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInFlight, "submission already in progress")
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.WarnErr(ctx, "finalization.lock_release_failed", err)
		}
	}, nil
}
