package admins

import (
	"context"
	"strings"

	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"gorm.io/gorm"
)

// Checker decides whether an identity carries administrative rights.
type Checker interface {
	IsAdmin(ctx context.Context, email string) (bool, error)
}

// Repository reads the admin_users allow-list.
type Repository struct {
	db *gorm.DB
}

// NewRepository returns an admin repository bound to the provided database.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// IsAdmin matches email case-insensitively. Blank emails are never admins.
func (r *Repository) IsAdmin(ctx context.Context, email string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false, nil
	}
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.AdminUser{}).
		Where("LOWER(email) = ?", email).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Add inserts email into the allow-list if absent.
func (r *Repository) Add(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	ok, err := r.IsAdmin(ctx, email)
	if err != nil || ok {
		return err
	}
	return r.db.WithContext(ctx).Create(&models.AdminUser{Email: email}).Error
}
