package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const defaultBatchSize = 200

type objectDeleter interface {
	Delete(ctx context.Context, key string) error
}

type rowDeleter interface {
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// purge removes the stored objects for entries and then the rows whose objects
// are gone. A row is kept when its object delete fails so the next run retries it.
func purge(ctx context.Context, store objectDeleter, rows rowDeleter, entries []models.GalleryEntry) (int, error) {
	var (
		errs error
		ids  = make([]uuid.UUID, 0, len(entries))
	)
	for _, entry := range entries {
		if entry.StoragePath != nil && *entry.StoragePath != "" {
			if err := store.Delete(ctx, *entry.StoragePath); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("delete object %s: %w", *entry.StoragePath, err))
				continue
			}
		}
		ids = append(ids, entry.ID)
	}
	removed, err := rows.DeleteByIDs(ctx, ids)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("delete gallery rows: %w", err))
	}
	return int(removed), errs
}
