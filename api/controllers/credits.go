package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/palette-backend/api/middleware"
	"github.com/angelmondragon/palette-backend/api/responses"
	"github.com/angelmondragon/palette-backend/api/validators"
	"github.com/angelmondragon/palette-backend/internal/credits"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/google/uuid"
)

const (
	actionCheck  = "check"
	actionDeduct = "deduct"
	actionAdd    = "add"
)

type creditsService interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*credits.Balance, error)
	HasSufficientCredits(ctx context.Context, userID uuid.UUID, q credits.CostQuery) (*credits.CheckResult, error)
	DeductCredits(ctx context.Context, userID uuid.UUID, input credits.DeductInput) (*credits.DeductResult, error)
	AddCredits(ctx context.Context, userID uuid.UUID, input credits.AddInput) (*credits.MutationResult, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, params credits.ListParams) (*credits.TransactionPage, error)
	ListPricing(ctx context.Context) ([]credits.PricingView, error)
}

type creditsActionRequest struct {
	Action          string         `json:"action" validate:"required,oneof=check deduct add"`
	ModelID         string         `json:"model_id" validate:"omitempty,max=128"`
	GenerationType  string         `json:"generation_type" validate:"omitempty,oneof=image video audio text"`
	DurationSeconds int            `json:"duration_seconds" validate:"omitempty,min=1,max=600"`
	Amount          int64          `json:"amount"`
	Type            string         `json:"type" validate:"omitempty,max=32"`
	Description     string         `json:"description" validate:"omitempty,max=255"`
	PredictionID    string         `json:"prediction_id" validate:"omitempty,max=128"`
	Metadata        map[string]any `json:"metadata"`
}

func (r creditsActionRequest) generationType() enums.GenerationType {
	if r.GenerationType == "" {
		return enums.GenerationImage
	}
	return enums.GenerationType(r.GenerationType)
}

// CreditsBalance returns the caller's balance. Users without a balance row read as zero.
func CreditsBalance(svc creditsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		balance, err := svc.GetBalance(ctx, middleware.UserIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

// CreditsAction dispatches check, deduct and add. Deduct amounts are always
// derived from model pricing; add is restricted to admins.
func CreditsAction(svc creditsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := middleware.UserIDFromContext(ctx)

		var req creditsActionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		switch req.Action {
		case actionCheck:
			if strings.TrimSpace(req.ModelID) == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "model_id is required"))
				return
			}
			res, err := svc.HasSufficientCredits(ctx, userID, credits.CostQuery{
				ModelID:         req.ModelID,
				GenerationType:  req.generationType(),
				DurationSeconds: req.DurationSeconds,
			})
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccess(w, map[string]any{
				"has_sufficient_credits": res.Sufficient,
				"current_balance":        res.Balance,
				"required_credits":       res.Required,
				"model_name":             res.ModelName,
				"formatted_balance":      credits.FormatCredits(res.Balance),
				"formatted_required":     credits.FormatCredits(res.Required),
			})

		case actionDeduct:
			if strings.TrimSpace(req.ModelID) == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "model_id is required"))
				return
			}
			res, err := svc.DeductCredits(ctx, userID, credits.DeductInput{
				ModelID:         req.ModelID,
				GenerationType:  req.generationType(),
				DurationSeconds: req.DurationSeconds,
				PredictionID:    req.PredictionID,
				Description:     validators.SanitizeString(req.Description, 255),
			})
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if !res.Success {
				responses.WriteSuccessStatus(w, http.StatusPaymentRequired, map[string]any{
					"success": false,
					"error":   res.Error,
				})
				return
			}
			responses.WriteSuccess(w, map[string]any{
				"success":           true,
				"credits_deducted":  res.Cost.Amount,
				"new_balance":       res.NewBalance,
				"formatted_balance": credits.FormatCredits(res.NewBalance),
			})

		case actionAdd:
			if !middleware.IsAdminFromContext(ctx) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin access required"))
				return
			}
			if req.Amount <= 0 {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Valid positive amount is required"))
				return
			}
			txType := enums.TransactionBonus
			if req.Type != "" {
				parsed, err := enums.ParseTransactionType(req.Type)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction type"))
					return
				}
				txType = parsed
			}
			res, err := svc.AddCredits(ctx, userID, credits.AddInput{
				Amount:       req.Amount,
				Type:         txType,
				Description:  validators.SanitizeString(req.Description, 255),
				PredictionID: req.PredictionID,
				Metadata:     req.Metadata,
			})
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccess(w, map[string]any{
				"success":           true,
				"credits_added":     req.Amount,
				"new_balance":       res.NewBalance,
				"formatted_balance": credits.FormatCredits(res.NewBalance),
			})
		}
	}
}

// CreditTransactions pages the caller's ledger history, newest first.
func CreditTransactions(svc creditsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 100)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		page, err := svc.ListTransactions(ctx, middleware.UserIDFromContext(ctx), credits.ListParams{Limit: limit, Offset: offset})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func Pricing(svc creditsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.ListPricing(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"models": rows})
	}
}
