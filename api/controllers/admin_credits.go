package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/palette-backend/api/middleware"
	"github.com/angelmondragon/palette-backend/api/responses"
	"github.com/angelmondragon/palette-backend/api/validators"
	"github.com/angelmondragon/palette-backend/internal/credits"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/google/uuid"
)

const maxGrantCredits = 1_000_000

type creditGranter interface {
	AddCredits(ctx context.Context, userID uuid.UUID, input credits.AddInput) (*credits.MutationResult, error)
}

type grantCreditsRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Amount int64  `json:"amount" validate:"required,min=1"`
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

// AdminGrantCredits credits another user's balance. Admin checks and rate
// limiting happen in middleware.
func AdminGrantCredits(svc creditGranter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req grantCreditsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if req.Amount > maxGrantCredits {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount exceeds grant limit").WithDetails(map[string]any{"max": maxGrantCredits}))
			return
		}
		target, err := uuid.Parse(req.UserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id"))
			return
		}

		admin := middleware.EmailFromContext(ctx)
		reason := validators.SanitizeString(req.Reason, 255)
		if reason == "" {
			reason = "Admin grant"
		}
		res, err := svc.AddCredits(ctx, target, credits.AddInput{
			Amount:      req.Amount,
			Type:        enums.TransactionAdminGrant,
			Description: reason,
			Metadata: map[string]any{
				"granted_by":    admin,
				"granted_by_id": middleware.UserIDFromContext(ctx).String(),
			},
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"target_user_id": target.String(),
				"amount":         req.Amount,
				"granted_by":     admin,
			}), "credits.admin_grant")
		}
		responses.WriteSuccess(w, map[string]any{
			"success":           true,
			"user_id":           target.String(),
			"credits_added":     req.Amount,
			"new_balance":       res.NewBalance,
			"formatted_balance": credits.FormatCredits(res.NewBalance),
		})
	}
}
