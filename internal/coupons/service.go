package coupons

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/palette-backend/internal/credits"
	"github.com/angelmondragon/palette-backend/pkg/db"
	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const redemptionConstraint = "coupon_redemptions_coupon_id_user_id_key"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type creditAdder interface {
	AddCreditsTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, input credits.AddInput) (*credits.MutationResult, error)
}

// Service redeems coupons for credits.
type Service interface {
	Redeem(ctx context.Context, userID uuid.UUID, code string) (*RedeemResult, error)
}

// RedeemResult reports the credits granted by a coupon.
type RedeemResult struct {
	Code       string `json:"code"`
	Credits    int64  `json:"credits_added"`
	NewBalance int64  `json:"new_balance"`
}

type service struct {
	tx      txRunner
	repo    Repository
	credits creditAdder
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds the coupon service.
func NewService(tx txRunner, repo Repository, creditSvc creditAdder, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("coupon repository required")
	}
	if creditSvc == nil {
		return nil, fmt.Errorf("credits service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:      tx,
		repo:    repo,
		credits: creditSvc,
		logg:    logg,
		now:     time.Now,
	}, nil
}

// NormalizeCode canonicalizes user input; codes are stored upper-case.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *service) Redeem(ctx context.Context, userID uuid.UUID, code string) (*RedeemResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	code = NormalizeCode(code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}

	var result *RedeemResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()

		claimed, err := repo.ClaimUse(ctx, code, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim coupon")
		}
		coupon, err := repo.FindByCode(ctx, code)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load coupon")
		}
		if !claimed {
			return unavailable(coupon, now)
		}

		if err := repo.CreateRedemption(ctx, &models.CouponRedemption{CouponID: coupon.ID, UserID: userID}); err != nil {
			if db.IsUniqueViolation(err, redemptionConstraint) || db.IsUniqueViolation(err, "coupon_redemptions") {
				return pkgerrors.New(pkgerrors.CodeConflict, "coupon already redeemed")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record redemption")
		}

		added, err := s.credits.AddCreditsTx(ctx, tx, userID, credits.AddInput{
			Amount:      coupon.Credits,
			Type:        enums.TransactionCouponRedemption,
			Description: "Coupon " + coupon.Code,
			Metadata: map[string]any{
				"coupon_id":   coupon.ID.String(),
				"coupon_code": coupon.Code,
			},
		})
		if err != nil {
			return err
		}
		result = &RedeemResult{Code: coupon.Code, Credits: coupon.Credits, NewBalance: added.NewBalance}
		return nil
	})
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"user_id":     userID.String(),
			"coupon_code": code,
			"reason":      pkgerrors.CodeOf(err),
		}), "coupon.redeem.rejected")
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id":     userID.String(),
		"coupon_code": code,
		"credits":     result.Credits,
	}), "coupon.redeemed")
	return result, nil
}

func unavailable(coupon *models.Coupon, now time.Time) error {
	switch {
	case coupon == nil:
		return pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
	case !coupon.IsActive:
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon is no longer active")
	case coupon.ExpiresAt != nil && !coupon.ExpiresAt.After(now):
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon has expired")
	default:
		return pkgerrors.New(pkgerrors.CodeConflict, "coupon has reached its usage limit")
	}
}
