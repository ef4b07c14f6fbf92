package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/palette-backend/pkg/enums"
)

// CreditBalance is the single balance row per user.
type CreditBalance struct {
	UserID            uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	Balance           int64     `gorm:"column:balance;not null;default:0;check:balance >= 0"`
	LifetimePurchased int64     `gorm:"column:lifetime_purchased;not null;default:0"`
	LifetimeUsed      int64     `gorm:"column:lifetime_used;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (CreditBalance) TableName() string { return "user_credits" }

// CreditTransaction is an append-only ledger entry. Amount is signed. The tags
// mirror the goose constraints so AutoMigrate schemas enforce the same rules.
type CreditTransaction struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	UserID       uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index:idx_credit_transactions_user_created,priority:1"`
	Amount       int64                 `gorm:"column:amount;not null;check:amount <> 0"`
	Type         enums.TransactionType `gorm:"column:type;type:text;not null;uniqueIndex:idx_credit_transactions_prediction_type,priority:2;check:type IN ('purchase', 'bonus', 'generation', 'admin_grant', 'coupon_redemption', 'refund')"`
	Description  string                `gorm:"column:description;not null"`
	PredictionID *string               `gorm:"column:prediction_id;index;uniqueIndex:idx_credit_transactions_prediction_type,priority:1,where:prediction_id IS NOT NULL AND (type = 'generation' OR type = 'refund')"`
	BalanceAfter int64                 `gorm:"column:balance_after;not null"`
	Metadata     JSON                  `gorm:"column:metadata;type:jsonb"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime;index:idx_credit_transactions_user_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (t *CreditTransaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// ModelPricing is the server-side price list consulted on every charge.
type ModelPricing struct {
	ModelID        string               `gorm:"column:model_id;primaryKey"`
	ModelName      string               `gorm:"column:model_name;not null"`
	ProviderModel  string               `gorm:"column:provider_model;not null"`
	GenerationType enums.GenerationType `gorm:"column:generation_type;type:text;not null"`
	PriceCents     int64                `gorm:"column:price_cents;not null;check:price_cents >= 0"`
	CostCents      int64                `gorm:"column:cost_cents;not null;default:0"`
	BillingUnit    enums.BillingUnit    `gorm:"column:billing_unit;type:text;not null;default:flat"`
	IsActive       bool                 `gorm:"column:is_active;not null;default:true"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (ModelPricing) TableName() string { return "model_pricing" }
