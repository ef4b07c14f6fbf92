package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/palette-backend/pkg/enums"
)

// GalleryEntry is the persisted record of one provider prediction.
type GalleryEntry struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	UserID         uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	PredictionID   string               `gorm:"column:prediction_id;not null;uniqueIndex"`
	Status         enums.GalleryStatus  `gorm:"column:status;type:text;not null;default:pending"`
	GenerationType enums.GenerationType `gorm:"column:generation_type;type:text;not null"`
	ModelID        string               `gorm:"column:model_id"`
	PublicURL      *string              `gorm:"column:public_url"`
	StoragePath    *string              `gorm:"column:storage_path"`
	FileSize       *int64               `gorm:"column:file_size"`
	MimeType       *string              `gorm:"column:mime_type"`
	Metadata       JSON                 `gorm:"column:metadata;type:jsonb"`
	ExpiresAt      *time.Time           `gorm:"column:expires_at;index"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (GalleryEntry) TableName() string { return "gallery" }

func (g *GalleryEntry) BeforeCreate(*gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}
