package credits

import (
	"time"

	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	"github.com/google/uuid"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 100

	// ReasonInsufficientCredits is the public reason attached to a declined deduction.
	ReasonInsufficientCredits = "insufficient credits"
)

// Balance is a user's spendable credits. Missing rows read as zero.
type Balance struct {
	UserID            uuid.UUID `json:"-"`
	Balance           int64     `json:"balance"`
	LifetimePurchased int64     `json:"lifetime_purchased"`
	LifetimeUsed      int64     `json:"lifetime_used"`
	FormattedBalance  string    `json:"formatted_balance"`
}

// CheckResult answers whether a user can afford one generation.
type CheckResult struct {
	Sufficient bool
	Balance    int64
	Required   int64
	ModelName  string
}

// DeductInput identifies what is being paid for. OverrideAmount is honoured
// only for trusted server callers and never populated from request bodies.
type DeductInput struct {
	ModelID         string
	GenerationType  enums.GenerationType
	DurationSeconds int
	PredictionID    string
	Description     string
	OverrideAmount  *int64
}

// DeductResult reports the outcome of a debit. A declined debit has
// Success=false, Error set and no persisted change.
type DeductResult struct {
	Success     bool
	Error       string
	Transaction *models.CreditTransaction
	NewBalance  int64
	Cost        Cost
}

// AddInput describes a balance increase.
type AddInput struct {
	Amount       int64
	Type         enums.TransactionType
	Description  string
	PredictionID string
	Metadata     map[string]any
}

// RefundInput returns a prior debit to the user.
type RefundInput struct {
	Amount        int64
	PredictionID  string
	TransactionID uuid.UUID
	Reason        string
}

// MutationResult is returned by balance increases.
type MutationResult struct {
	Transaction *models.CreditTransaction
	NewBalance  int64
}

// ListParams pages the transaction history.
type ListParams struct {
	Limit  int
	Offset int
}

func (p ListParams) normalize() ListParams {
	if p.Limit <= 0 {
		p.Limit = defaultTransactionLimit
	}
	if p.Limit > maxTransactionLimit {
		p.Limit = maxTransactionLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// TransactionView is the client representation of a ledger entry.
type TransactionView struct {
	ID           uuid.UUID      `json:"id"`
	Amount       int64          `json:"amount"`
	Type         string         `json:"type"`
	Description  string         `json:"description"`
	PredictionID *string        `json:"prediction_id,omitempty"`
	BalanceAfter int64          `json:"balance_after"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TransactionPage is one page of history, newest first.
type TransactionPage struct {
	Transactions []TransactionView `json:"transactions"`
	Limit        int               `json:"limit"`
	Offset       int               `json:"offset"`
	HasMore      bool              `json:"has_more"`
}

// PricingView is the public price list entry.
type PricingView struct {
	ModelID        string `json:"model_id"`
	ModelName      string `json:"model_name"`
	GenerationType string `json:"generation_type"`
	PriceCents     int64  `json:"price_cents"`
	BillingUnit    string `json:"billing_unit"`
	FormattedPrice string `json:"formatted_price"`
}

func toTransactionView(txn models.CreditTransaction) TransactionView {
	return TransactionView{
		ID:           txn.ID,
		Amount:       txn.Amount,
		Type:         txn.Type.String(),
		Description:  txn.Description,
		PredictionID: txn.PredictionID,
		BalanceAfter: txn.BalanceAfter,
		Metadata:     txn.Metadata.Map(),
		CreatedAt:    txn.CreatedAt,
	}
}

func toPricingView(row models.ModelPricing) PricingView {
	unit := row.BillingUnit
	if !unit.IsValid() {
		unit = enums.BillingFlat
	}
	return PricingView{
		ModelID:        row.ModelID,
		ModelName:      row.ModelName,
		GenerationType: row.GenerationType.String(),
		PriceCents:     row.PriceCents,
		BillingUnit:    string(unit),
		FormattedPrice: FormatCredits(row.PriceCents),
	}
}
