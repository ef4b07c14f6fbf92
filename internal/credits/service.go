package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/palette-backend/pkg/db"
	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/angelmondragon/palette-backend/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// errDeclined rolls back the debit transaction when the balance is short.
var errDeclined = errors.New("credits: debit declined")

// predictionChargeIndex allows one generation charge and one refund per prediction.
const predictionChargeIndex = "idx_credit_transactions_prediction_type"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the credit ledger. Every balance change is paired with an
// append-only transaction row in the same database transaction.
type Service interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error)
	HasSufficientCredits(ctx context.Context, userID uuid.UUID, q CostQuery) (*CheckResult, error)
	Quote(ctx context.Context, q CostQuery) (Cost, error)
	DeductCredits(ctx context.Context, userID uuid.UUID, input DeductInput) (*DeductResult, error)
	AddCredits(ctx context.Context, userID uuid.UUID, input AddInput) (*MutationResult, error)
	AddCreditsTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, input AddInput) (*MutationResult, error)
	Refund(ctx context.Context, userID uuid.UUID, input RefundInput) (*MutationResult, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, params ListParams) (*TransactionPage, error)
	ListPricing(ctx context.Context) ([]PricingView, error)
}

type service struct {
	tx      txRunner
	repo    Repository
	pricer  *Pricer
	logg    *logger.Logger
	metrics *metrics.CreditMetrics
}

// NewService wires the ledger with its repository and transaction runner.
func NewService(tx txRunner, repo Repository, logg *logger.Logger, m *metrics.CreditMetrics) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:      tx,
		repo:    repo,
		pricer:  NewPricer(repo),
		logg:    logg,
		metrics: m,
	}, nil
}

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	row, err := s.repo.FindBalance(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load balance")
	}
	return toBalance(userID, row), nil
}

func (s *service) Quote(ctx context.Context, q CostQuery) (Cost, error) {
	return s.pricer.Resolve(ctx, q)
}

func (s *service) HasSufficientCredits(ctx context.Context, userID uuid.UUID, q CostQuery) (*CheckResult, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	cost, err := s.pricer.Resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	return &CheckResult{
		Sufficient: balance.Balance >= cost.Amount,
		Balance:    balance.Balance,
		Required:   cost.Amount,
		ModelName:  cost.ModelName,
	}, nil
}

func (s *service) DeductCredits(ctx context.Context, userID uuid.UUID, input DeductInput) (*DeductResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	cost, err := s.pricer.Resolve(ctx, CostQuery{
		ModelID:         input.ModelID,
		GenerationType:  input.GenerationType,
		DurationSeconds: input.DurationSeconds,
	})
	if err != nil {
		return nil, err
	}
	if input.OverrideAmount != nil {
		if *input.OverrideAmount <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "override amount must be positive")
		}
		cost.Amount = *input.OverrideAmount
	}
	if cost.Amount == 0 {
		return s.freeCharge(ctx, userID, cost)
	}

	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = cost.ModelName + " generation"
	}
	predictionID := strings.TrimSpace(input.PredictionID)

	metadata, err := models.NewJSON(map[string]any{
		"model_id":        cost.ModelID,
		"model_name":      cost.ModelName,
		"prediction_id":   nullableString(predictionID),
		"generation_type": cost.GenerationType.String(),
		"cost_cents":      cost.CostCents,
		"price_cents":     cost.Amount,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode transaction metadata")
	}

	result := &DeductResult{Cost: cost}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.EnsureBalance(ctx, userID); err != nil {
			return err
		}
		ok, err := repo.Debit(ctx, userID, cost.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return errDeclined
		}
		after, err := repo.FindBalance(ctx, userID)
		if err != nil {
			return err
		}
		if after == nil {
			return fmt.Errorf("balance row missing after debit")
		}
		txn := &models.CreditTransaction{
			UserID:       userID,
			Amount:       -cost.Amount,
			Type:         enums.TransactionGeneration,
			Description:  description,
			PredictionID: optionalString(predictionID),
			BalanceAfter: after.Balance,
			Metadata:     metadata,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		result.Success = true
		result.Transaction = txn
		result.NewBalance = after.Balance
		return nil
	})
	if errors.Is(err, errDeclined) {
		result.Error = ReasonInsufficientCredits
	} else if predictionID != "" && isPredictionCharged(err) {
		s.metrics.Observe("deduct", metrics.ResultError)
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "prediction already charged")
	} else if err != nil {
		s.metrics.Observe("deduct", metrics.ResultError)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deduct credits")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":  userID.String(),
		"model_id": cost.ModelID,
		"amount":   cost.Amount,
	})
	if !result.Success {
		s.metrics.Observe("deduct", metrics.ResultInsufficient)
		s.logg.Info(logCtx, "credits.deduct.insufficient")
		return result, nil
	}
	s.metrics.Observe("deduct", metrics.ResultSuccess)
	s.metrics.AddAmount("deduct", cost.Amount)
	s.logg.Info(s.logg.WithField(logCtx, "balance_after", result.NewBalance), "credits.deducted")
	return result, nil
}

// freeCharge settles a zero-priced generation without a ledger row.
func (s *service) freeCharge(ctx context.Context, userID uuid.UUID, cost Cost) (*DeductResult, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.metrics.Observe("deduct", metrics.ResultSuccess)
	s.logg.Debug(s.logg.WithField(ctx, "model_id", cost.ModelID), "credits.deduct.free")
	return &DeductResult{Success: true, Cost: cost, NewBalance: balance.Balance}, nil
}

func isPredictionCharged(err error) bool {
	return db.IsUniqueViolation(err, predictionChargeIndex) ||
		db.IsUniqueViolation(err, "credit_transactions.prediction_id")
}

func (s *service) AddCredits(ctx context.Context, userID uuid.UUID, input AddInput) (*MutationResult, error) {
	var result *MutationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.AddCreditsTx(ctx, tx, userID, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddCreditsTx applies a credit inside a caller-owned transaction.
func (s *service) AddCreditsTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, input AddInput) (*MutationResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be a positive integer")
	}
	if input.Type == "" {
		input.Type = enums.TransactionPurchase
	}
	if !input.Type.IsCredit() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("transaction type %q cannot add credits", input.Type))
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = fmt.Sprintf("%s - %d credits", input.Type, input.Amount)
	}
	metadata, err := models.NewJSON(input.Metadata)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "metadata must be a json object")
	}

	op := "add_" + input.Type.String()
	repo := s.repo.WithTx(tx)
	result, err := s.applyCredit(ctx, repo, userID, input, description, metadata)
	if err != nil {
		s.metrics.Observe(op, metrics.ResultError)
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "add credits")
	}
	s.metrics.Observe(op, metrics.ResultSuccess)
	s.metrics.AddAmount(op, input.Amount)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id":       userID.String(),
		"type":          input.Type.String(),
		"amount":        input.Amount,
		"balance_after": result.NewBalance,
	}), "credits.added")
	return result, nil
}

func (s *service) applyCredit(ctx context.Context, repo Repository, userID uuid.UUID, input AddInput, description string, metadata models.JSON) (*MutationResult, error) {
	if err := repo.EnsureBalance(ctx, userID); err != nil {
		return nil, err
	}
	ok, err := repo.Credit(ctx, userID, input.Amount, input.Type == enums.TransactionPurchase)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("balance row missing for user %s", userID)
	}
	after, err := repo.FindBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if after == nil {
		return nil, fmt.Errorf("balance row missing after credit")
	}
	txn := &models.CreditTransaction{
		UserID:       userID,
		Amount:       input.Amount,
		Type:         input.Type,
		Description:  description,
		PredictionID: optionalString(strings.TrimSpace(input.PredictionID)),
		BalanceAfter: after.Balance,
		Metadata:     metadata,
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return &MutationResult{Transaction: txn, NewBalance: after.Balance}, nil
}

// Refund credits back a generation charge. A prediction is refunded at most once.
func (s *service) Refund(ctx context.Context, userID uuid.UUID, input RefundInput) (*MutationResult, error) {
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "generation refund"
	}
	meta := map[string]any{"reason": reason}
	if input.TransactionID != uuid.Nil {
		meta["refunded_transaction_id"] = input.TransactionID.String()
	}

	var result *MutationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if input.PredictionID != "" {
			existing, err := s.repo.WithTx(tx).FindTransactionByPrediction(ctx, input.PredictionID, enums.TransactionRefund)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load prior refund")
			}
			if existing != nil {
				result = &MutationResult{Transaction: existing, NewBalance: existing.BalanceAfter}
				return nil
			}
		}
		var err error
		result, err = s.AddCreditsTx(ctx, tx, userID, AddInput{
			Amount:       input.Amount,
			Type:         enums.TransactionRefund,
			Description:  reason,
			PredictionID: input.PredictionID,
			Metadata:     meta,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ListTransactions(ctx context.Context, userID uuid.UUID, params ListParams) (*TransactionPage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	params = params.normalize()
	rows, err := s.repo.ListTransactions(ctx, userID, params.Limit+1, params.Offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list transactions")
	}
	page := &TransactionPage{
		Transactions: make([]TransactionView, 0, len(rows)),
		Limit:        params.Limit,
		Offset:       params.Offset,
	}
	if len(rows) > params.Limit {
		page.HasMore = true
		rows = rows[:params.Limit]
	}
	for _, row := range rows {
		page.Transactions = append(page.Transactions, toTransactionView(row))
	}
	return page, nil
}

func (s *service) ListPricing(ctx context.Context) ([]PricingView, error) {
	rows, err := s.repo.ListPricing(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pricing")
	}
	out := make([]PricingView, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPricingView(row))
	}
	return out, nil
}

func toBalance(userID uuid.UUID, row *models.CreditBalance) *Balance {
	b := &Balance{UserID: userID}
	if row != nil {
		b.Balance = row.Balance
		b.LifetimePurchased = row.LifetimePurchased
		b.LifetimeUsed = row.LifetimeUsed
	}
	b.FormattedBalance = FormatCredits(b.Balance)
	return b
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
