package coupons

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/palette-backend/internal/credits"
	"github.com/angelmondragon/palette-backend/pkg/config"
	"github.com/angelmondragon/palette-backend/pkg/db"
	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	client  *db.Client
	credits credits.Service
	svc     *service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dsn := "file:coupons_" + uuid.NewString() + "?mode=memory&cache=shared"
	client, err := db.New(context.Background(), config.DBConfig{DSN: dsn}, db.Options{UseSQLite: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.DB().AutoMigrate(
		&models.CreditBalance{},
		&models.CreditTransaction{},
		&models.ModelPricing{},
		&models.Coupon{},
		&models.CouponRedemption{},
	))

	creditSvc, err := credits.NewService(client, credits.NewRepository(client.DB()), nil, nil)
	require.NoError(t, err)
	svc, err := NewService(client, NewRepository(client.DB()), creditSvc, nil)
	require.NoError(t, err)
	impl := svc.(*service)
	impl.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return fixture{client: client, credits: creditSvc, svc: impl}
}

func (f fixture) seed(t *testing.T, coupon models.Coupon) models.Coupon {
	t.Helper()
	require.NoError(t, f.client.DB().Create(&coupon).Error)
	return coupon
}

func TestRedeemCreditsUserOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, models.Coupon{Code: "LAUNCH", Credits: 100, MaxUses: 10, IsActive: true})
	userID := uuid.New()

	res, err := f.svc.Redeem(ctx, userID, "  launch ")
	require.NoError(t, err)
	assert.Equal(t, "LAUNCH", res.Code)
	assert.Equal(t, int64(100), res.Credits)
	assert.Equal(t, int64(100), res.NewBalance)

	_, err = f.svc.Redeem(ctx, userID, "LAUNCH")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Contains(t, err.Error(), "coupon already redeemed")

	var coupon models.Coupon
	require.NoError(t, f.client.DB().Where("code = ?", "LAUNCH").First(&coupon).Error)
	assert.Equal(t, 1, coupon.CurrentUses)

	balance, err := f.credits.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.Balance)
	assert.Zero(t, balance.LifetimePurchased)

	page, err := f.credits.ListTransactions(ctx, userID, credits.ListParams{})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, enums.TransactionCouponRedemption.String(), page.Transactions[0].Type)
}

func TestRedeemRespectsUsageLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, models.Coupon{Code: "SOLO", Credits: 50, MaxUses: 1, IsActive: true})

	_, err := f.svc.Redeem(ctx, uuid.New(), "SOLO")
	require.NoError(t, err)

	_, err = f.svc.Redeem(ctx, uuid.New(), "SOLO")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Contains(t, err.Error(), "usage limit")
}

func TestRedeemRejectsUnknownExpiredAndInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	f.seed(t, models.Coupon{Code: "OLD", Credits: 10, MaxUses: 5, IsActive: true, ExpiresAt: &past})
	f.seed(t, models.Coupon{Code: "OFF", Credits: 10, MaxUses: 5, IsActive: true})
	require.NoError(t, f.client.DB().Model(&models.Coupon{}).Where("code = ?", "OFF").Update("is_active", false).Error)

	_, err := f.svc.Redeem(ctx, uuid.New(), "NOPE")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Redeem(ctx, uuid.New(), "OLD")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Contains(t, err.Error(), "expired")

	_, err = f.svc.Redeem(ctx, uuid.New(), "OFF")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Redeem(ctx, uuid.New(), "   ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil)
	require.Error(t, err)
}
