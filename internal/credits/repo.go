package credits

import (
	"context"
	"errors"

	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository manages persistence for balances, transactions and pricing.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindBalance(ctx context.Context, userID uuid.UUID) (*models.CreditBalance, error)
	EnsureBalance(ctx context.Context, userID uuid.UUID) error
	Debit(ctx context.Context, userID uuid.UUID, amount int64) (bool, error)
	Credit(ctx context.Context, userID uuid.UUID, amount int64, purchase bool) (bool, error)
	CreateTransaction(ctx context.Context, txn *models.CreditTransaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CreditTransaction, error)
	FindTransactionByPrediction(ctx context.Context, predictionID string, txnType enums.TransactionType) (*models.CreditTransaction, error)
	FindPricing(ctx context.Context, modelID string) (*models.ModelPricing, error)
	ListPricing(ctx context.Context) ([]models.ModelPricing, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credits repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindBalance returns nil when the user has never held credits.
func (r *repository) FindBalance(ctx context.Context, userID uuid.UUID) (*models.CreditBalance, error) {
	var balance models.CreditBalance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) EnsureBalance(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&models.CreditBalance{UserID: userID}).Error
}

// Debit subtracts amount only when the balance covers it. The boolean reports
// whether the row was updated.
func (r *repository) Debit(ctx context.Context, userID uuid.UUID, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CreditBalance{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]any{
			"balance":       gorm.Expr("balance - ?", amount),
			"lifetime_used": gorm.Expr("lifetime_used + ?", amount),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Credit(ctx context.Context, userID uuid.UUID, amount int64, purchase bool) (bool, error) {
	updates := map[string]any{
		"balance": gorm.Expr("balance + ?", amount),
	}
	if purchase {
		updates["lifetime_purchased"] = gorm.Expr("lifetime_purchased + ?", amount)
	}
	res := r.db.WithContext(ctx).
		Model(&models.CreditBalance{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.CreditTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CreditTransaction, error) {
	var txns []models.CreditTransaction
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) FindTransactionByPrediction(ctx context.Context, predictionID string, txnType enums.TransactionType) (*models.CreditTransaction, error) {
	var txn models.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("prediction_id = ? AND type = ?", predictionID, txnType).
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindPricing returns the active pricing row for a model, or nil.
func (r *repository) FindPricing(ctx context.Context, modelID string) (*models.ModelPricing, error) {
	var pricing models.ModelPricing
	err := r.db.WithContext(ctx).
		Where("model_id = ? AND is_active = ?", modelID, true).
		First(&pricing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pricing, nil
}

func (r *repository) ListPricing(ctx context.Context) ([]models.ModelPricing, error) {
	var rows []models.ModelPricing
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("generation_type ASC").
		Order("price_cents ASC").
		Order("model_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
