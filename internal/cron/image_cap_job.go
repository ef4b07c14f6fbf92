package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const defaultImageCap = 500

type imageCapRepo interface {
	rowDeleter
	UsersOverImageCap(ctx context.Context, limit int) ([]uuid.UUID, error)
	ListImagesBeyondCap(ctx context.Context, userID uuid.UUID, keep, limit int) ([]models.GalleryEntry, error)
}

type ImageCapJobParams struct {
	Logger    *logger.Logger
	Gallery   imageCapRepo
	Store     objectDeleter
	Cap       int
	BatchSize int
}

func NewImageCapJob(params ImageCapJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Gallery == nil {
		return nil, fmt.Errorf("gallery repository required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("object store required")
	}
	limit := params.Cap
	if limit <= 0 {
		limit = defaultImageCap
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &imageCapJob{
		logg:    params.Logger,
		gallery: params.Gallery,
		store:   params.Store,
		cap:     limit,
		batch:   batch,
	}, nil
}

type imageCapJob struct {
	logg    *logger.Logger
	gallery imageCapRepo
	store   objectDeleter
	cap     int
	batch   int
}

func (j *imageCapJob) Name() string { return "image-cap-enforcement" }

// Run keeps each user's newest completed images up to the cap and removes up
// to one batch of the older ones per user.
func (j *imageCapJob) Run(ctx context.Context) (int, error) {
	users, err := j.gallery.UsersOverImageCap(ctx, j.cap)
	if err != nil {
		return 0, fmt.Errorf("list users over cap: %w", err)
	}

	var (
		total int
		errs  error
	)
	for _, userID := range users {
		entries, err := j.gallery.ListImagesBeyondCap(ctx, userID, j.cap, j.batch)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("list images for %s: %w", userID, err))
			continue
		}
		removed, err := purge(ctx, j.store, j.gallery, entries)
		total += removed
		errs = multierr.Append(errs, err)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cap":     j.cap,
		"users":   len(users),
		"removed": total,
	}), "cron.image_cap.swept")
	return total, errs
}
