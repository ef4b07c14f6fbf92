package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/palette-backend/api/middleware"
	"github.com/angelmondragon/palette-backend/api/responses"
	"github.com/angelmondragon/palette-backend/api/validators"
	"github.com/angelmondragon/palette-backend/internal/coupons"
	"github.com/angelmondragon/palette-backend/internal/credits"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/google/uuid"
)

type couponRedeemer interface {
	Redeem(ctx context.Context, userID uuid.UUID, code string) (*coupons.RedeemResult, error)
}

type redeemCouponRequest struct {
	Code string `json:"code" validate:"required,min=3,max=64"`
}

func RedeemCoupon(svc couponRedeemer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req redeemCouponRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		res, err := svc.Redeem(ctx, middleware.UserIDFromContext(ctx), req.Code)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"success":           true,
			"code":              res.Code,
			"credits_added":     res.Credits,
			"new_balance":       res.NewBalance,
			"formatted_balance": credits.FormatCredits(res.NewBalance),
		})
	}
}
