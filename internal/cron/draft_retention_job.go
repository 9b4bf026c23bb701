package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/intake-backend/pkg/logger"
)

const defaultDraftRetentionDays = 90

type draftPurger interface {
	PurgeStale(ctx context.Context, before time.Time) (int64, error)
}

type DraftRetentionJobParams struct {
	Logger        *logger.Logger
	Drafts        draftPurger
	RetentionDays int
}

// NewDraftRetentionJob deletes unsubmitted drafts nobody touched within the
// retention window. Submitted sessions are never purged.
func NewDraftRetentionJob(params DraftRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Drafts == nil {
		return nil, fmt.Errorf("drafts service required")
	}
	days := params.RetentionDays
	if days <= 0 {
		days = defaultDraftRetentionDays
	}
	return &draftRetentionJob{
		logg:      params.Logger,
		drafts:    params.Drafts,
		retention: time.Duration(days) * 24 * time.Hour,
		now:       time.Now,
	}, nil
}

type draftRetentionJob struct {
	logg      *logger.Logger
	drafts    draftPurger
	retention time.Duration
	now       func() time.Time
}

func (j *draftRetentionJob) Name() string { return "draft-retention" }

func (j *draftRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.drafts.PurgeStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("draft retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"deleted": deleted,
	}), "cron.draft_retention.purged")
	return nil
}
