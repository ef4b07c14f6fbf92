package gallery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrMissingPublicURL guards the completed => public_url invariant.
var ErrMissingPublicURL = errors.New("gallery: completed entries require a public url")

// Completion carries the durable artifact written on success.
type Completion struct {
	PublicURL   string
	StoragePath string
	FileSize    int64
	MimeType    string
	Metadata    models.JSON
}

// Repository persists gallery entries. Terminal transitions are conditional
// updates; the boolean results report whether this caller made the transition.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.GalleryEntry) error
	FindByPredictionID(ctx context.Context, predictionID string) (*models.GalleryEntry, error)
	MarkProcessing(ctx context.Context, predictionID string) (bool, error)
	MarkCompleted(ctx context.Context, predictionID string, c Completion) (bool, error)
	MarkFailed(ctx context.Context, predictionID string, metadata models.JSON) (bool, error)
	ListExpiredVideos(ctx context.Context, cutoff time.Time, limit int) ([]models.GalleryEntry, error)
	UsersOverImageCap(ctx context.Context, limit int) ([]uuid.UUID, error)
	ListImagesBeyondCap(ctx context.Context, userID uuid.UUID, keep, limit int) ([]models.GalleryEntry, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a gallery repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.GalleryEntry) error {
	if entry.Status == "" {
		entry.Status = enums.GalleryStatusPending
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByPredictionID(ctx context.Context, predictionID string) (*models.GalleryEntry, error) {
	var entry models.GalleryEntry
	err := r.db.WithContext(ctx).Where("prediction_id = ?", predictionID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) MarkProcessing(ctx context.Context, predictionID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.GalleryEntry{}).
		Where("prediction_id = ? AND status = ?", predictionID, enums.GalleryStatusPending).
		Update("status", enums.GalleryStatusProcessing)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkCompleted(ctx context.Context, predictionID string, c Completion) (bool, error) {
	if strings.TrimSpace(c.PublicURL) == "" {
		return false, ErrMissingPublicURL
	}
	updates := map[string]any{
		"status":       enums.GalleryStatusCompleted,
		"public_url":   c.PublicURL,
		"storage_path": nullable(c.StoragePath),
		"mime_type":    nullable(c.MimeType),
		"metadata":     c.Metadata,
	}
	if c.FileSize > 0 {
		updates["file_size"] = c.FileSize
	}
	return r.transition(ctx, predictionID, updates)
}

func (r *repository) MarkFailed(ctx context.Context, predictionID string, metadata models.JSON) (bool, error) {
	return r.transition(ctx, predictionID, map[string]any{
		"status":   enums.GalleryStatusFailed,
		"metadata": metadata,
	})
}

func (r *repository) transition(ctx context.Context, predictionID string, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.GalleryEntry{}).
		Where("prediction_id = ? AND status IN ?", predictionID, enums.OpenGalleryStatuses()).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListExpiredVideos(ctx context.Context, cutoff time.Time, limit int) ([]models.GalleryEntry, error) {
	var entries []models.GalleryEntry
	q := r.db.WithContext(ctx).
		Where("generation_type = ? AND expires_at IS NOT NULL AND expires_at <= ?", enums.GenerationVideo, cutoff).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// UsersOverImageCap lists users holding more than limit completed images.
func (r *repository) UsersOverImageCap(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var users []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.GalleryEntry{}).
		Where("generation_type = ? AND status = ?", enums.GenerationImage, enums.GalleryStatusCompleted).
		Group("user_id").
		Having("COUNT(*) > ?", limit).
		Pluck("user_id", &users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// ListImagesBeyondCap returns the user's completed images older than the newest keep.
func (r *repository) ListImagesBeyondCap(ctx context.Context, userID uuid.UUID, keep, limit int) ([]models.GalleryEntry, error) {
	var entries []models.GalleryEntry
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND generation_type = ? AND status = ?", userID, enums.GenerationImage, enums.GalleryStatusCompleted).
		Order("created_at DESC").
		Order("id DESC").
		Offset(keep)
	if limit > 0 {
		q = q.Limit(limit)
	} else {
		q = q.Limit(-1)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.GalleryEntry{})
	return res.RowsAffected, res.Error
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
