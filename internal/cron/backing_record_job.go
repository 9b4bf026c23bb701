package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/intake-backend/internal/drafts"
	"github.com/angelmondragon/intake-backend/pkg/logger"
)

const defaultReconcileBatch = 50

type unsyncedDrafts interface {
	ListUnsynced(ctx context.Context, limit int) ([]drafts.Session, error)
	AttachExternalID(ctx context.Context, code string) (string, error)
}

type BackingRecordJobParams struct {
	Logger    *logger.Logger
	Drafts    unsyncedDrafts
	BatchSize int
}

// NewBackingRecordJob creates CRM backing records for drafts whose
// best-effort creation failed at save time.
func NewBackingRecordJob(params BackingRecordJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Drafts == nil {
		return nil, fmt.Errorf("drafts service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &backingRecordJob{logg: params.Logger, drafts: params.Drafts, batch: batch}, nil
}

type backingRecordJob struct {
	logg   *logger.Logger
	drafts unsyncedDrafts
	batch  int
}

func (j *backingRecordJob) Name() string { return "backing-record-reconcile" }

// Run attempts every listed draft; one failing row does not stop the batch.
func (j *backingRecordJob) Run(ctx context.Context) error {
	sessions, err := j.drafts.ListUnsynced(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list unsynced drafts: %w", err)
	}

	var errs error
	synced := 0
	for _, session := range sessions {
		rowCtx := j.logg.WithCode(ctx, session.Code)
		itemID, err := j.drafts.AttachExternalID(rowCtx, session.Code)
		if err != nil {
			j.logg.WarnErr(rowCtx, "cron.backing_record.failed", err)
			errs = multierr.Append(errs, fmt.Errorf("draft %s: %w", session.Code, err))
			continue
		}
		if itemID != "" {
			synced++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(sessions),
		"synced":     synced,
	}), "cron.backing_record.reconciled")
	return errs
}
