package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"go.uber.org/multierr"
)

// maxBatchesPerRun bounds one run when deletes keep failing.
const maxBatchesPerRun = 50

type expiredVideoRepo interface {
	rowDeleter
	ListExpiredVideos(ctx context.Context, cutoff time.Time, limit int) ([]models.GalleryEntry, error)
}

type ExpiredVideoJobParams struct {
	Logger    *logger.Logger
	Gallery   expiredVideoRepo
	Store     objectDeleter
	BatchSize int
}

func NewExpiredVideoJob(params ExpiredVideoJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Gallery == nil {
		return nil, fmt.Errorf("gallery repository required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("object store required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &expiredVideoJob{
		logg:    params.Logger,
		gallery: params.Gallery,
		store:   params.Store,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type expiredVideoJob struct {
	logg    *logger.Logger
	gallery expiredVideoRepo
	store   objectDeleter
	batch   int
	now     func() time.Time
}

func (j *expiredVideoJob) Name() string { return "expired-video-cleanup" }

// Run deletes video entries past expires_at in batches until a batch comes back
// short or makes no progress.
func (j *expiredVideoJob) Run(ctx context.Context) (int, error) {
	cutoff := j.now().UTC()
	var (
		total int
		errs  error
	)
	for i := 0; i < maxBatchesPerRun; i++ {
		entries, err := j.gallery.ListExpiredVideos(ctx, cutoff, j.batch)
		if err != nil {
			return total, multierr.Append(errs, fmt.Errorf("list expired videos: %w", err))
		}
		if len(entries) == 0 {
			break
		}
		removed, err := purge(ctx, j.store, j.gallery, entries)
		total += removed
		errs = multierr.Append(errs, err)
		if removed == 0 || len(entries) < j.batch {
			break
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"removed": total,
		"errors":  len(multierr.Errors(errs)),
	}), "cron.expired_videos.swept")
	return total, errs
}
