package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Coupon grants a fixed number of credits, redeemable once per user.
type Coupon struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Code        string     `gorm:"column:code;not null;uniqueIndex"`
	Credits     int64      `gorm:"column:credits;not null"`
	MaxUses     int        `gorm:"column:max_uses;not null;default:1"`
	CurrentUses int        `gorm:"column:current_uses;not null;default:0"`
	ExpiresAt   *time.Time `gorm:"column:expires_at"`
	IsActive    bool       `gorm:"column:is_active;not null;default:true"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Coupon) TableName() string { return "coupons" }

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CouponRedemption records that a user consumed a coupon.
type CouponRedemption struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CouponID   uuid.UUID `gorm:"column:coupon_id;type:uuid;not null;uniqueIndex:coupon_redemptions_coupon_id_user_id_key,priority:1"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:coupon_redemptions_coupon_id_user_id_key,priority:2"`
	RedeemedAt time.Time `gorm:"column:redeemed_at;autoCreateTime"`
}

func (CouponRedemption) TableName() string { return "coupon_redemptions" }

func (r *CouponRedemption) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
