package credits

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/palette-backend/pkg/config"
	"github.com/angelmondragon/palette-backend/pkg/db"
	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*db.Client, Service) {
	t.Helper()
	dsn := "file:credits_" + uuid.NewString() + "?mode=memory&cache=shared"
	client, err := db.New(context.Background(), config.DBConfig{DSN: dsn}, db.Options{UseSQLite: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.DB().AutoMigrate(&models.CreditBalance{}, &models.CreditTransaction{}, &models.ModelPricing{}))

	svc, err := NewService(client, NewRepository(client.DB()), nil, metrics.NewCreditMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	return client, svc
}

func seedPricing(t *testing.T, client *db.Client, rows ...models.ModelPricing) {
	t.Helper()
	for i := range rows {
		require.NoError(t, client.DB().Create(&rows[i]).Error)
	}
}

func fund(t *testing.T, svc Service, userID uuid.UUID, amount int64) {
	t.Helper()
	_, err := svc.AddCredits(context.Background(), userID, AddInput{Amount: amount, Type: enums.TransactionPurchase})
	require.NoError(t, err)
}

func transactionSum(t *testing.T, client *db.Client, userID uuid.UUID) int64 {
	t.Helper()
	var sum int64
	require.NoError(t, client.DB().Model(&models.CreditTransaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error)
	return sum
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil)
	require.Error(t, err)
}

func TestGetBalanceDefaultsToZero(t *testing.T) {
	_, svc := newTestLedger(t)

	balance, err := svc.GetBalance(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, balance.Balance)
	assert.Equal(t, "$0.00", balance.FormattedBalance)
}

func TestDeductThenCheckScenario(t *testing.T) {
	client, svc := newTestLedger(t)
	ctx := context.Background()
	seedPricing(t, client,
		models.ModelPricing{ModelID: "flat-250", ModelName: "Flat 250", ProviderModel: "acme/flat", GenerationType: enums.GenerationImage, PriceCents: 250, CostCents: 100, BillingUnit: enums.BillingFlat, IsActive: true},
		models.ModelPricing{ModelID: "pricey-800", ModelName: "Pricey", ProviderModel: "acme/pricey", GenerationType: enums.GenerationImage, PriceCents: 800, CostCents: 500, BillingUnit: enums.BillingFlat, IsActive: true},
	)
	userID := uuid.New()
	fund(t, svc, userID, 1000)

	res, err := svc.DeductCredits(ctx, userID, DeductInput{ModelID: "flat-250", GenerationType: enums.GenerationImage, PredictionID: "pred-1"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, int64(750), res.NewBalance)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, int64(-250), res.Transaction.Amount)
	assert.Equal(t, "Flat 250 generation", res.Transaction.Description)
	assert.Equal(t, int64(750), res.Transaction.BalanceAfter)
	meta := res.Transaction.Metadata.Map()
	assert.Equal(t, "flat-250", meta["model_id"])
	assert.Equal(t, "pred-1", meta["prediction_id"])
	assert.EqualValues(t, 100, meta["cost_cents"])

	check, err := svc.HasSufficientCredits(ctx, userID, CostQuery{ModelID: "pricey-800", GenerationType: enums.GenerationImage})
	require.NoError(t, err)
	assert.Equal(t, CheckResult{Sufficient: false, Balance: 750, Required: 800, ModelName: "Pricey"}, *check)

	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.LifetimePurchased)
	assert.Equal(t, int64(250), balance.LifetimeUsed)
	assert.Equal(t, "$7.50", balance.FormattedBalance)
}

func TestDeductInsufficientLeavesNoTrace(t *testing.T) {
	client, svc := newTestLedger(t)
	ctx := context.Background()
	userID := uuid.New()
	fund(t, svc, userID, 10)

	res, err := svc.DeductCredits(ctx, userID, DeductInput{ModelID: "unknown", GenerationType: enums.GenerationVideo})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonInsufficientCredits, res.Error)
	assert.Nil(t, res.Transaction)

	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance.Balance)
	assert.Zero(t, balance.LifetimeUsed)

	var count int64
	require.NoError(t, client.DB().Model(&models.CreditTransaction{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDeductForNewUserDoesNotCreateBalanceRow(t *testing.T) {
	client, svc := newTestLedger(t)
	userID := uuid.New()

	res, err := svc.DeductCredits(context.Background(), userID, DeductInput{ModelID: "m", GenerationType: enums.GenerationText})
	require.NoError(t, err)
	assert.False(t, res.Success)

	var count int64
	require.NoError(t, client.DB().Model(&models.CreditBalance{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestConcurrentDeductsAllowExactlyOne(t *testing.T) {
	client, svc := newTestLedger(t)
	ctx := context.Background()
	seedPricing(t, client, models.ModelPricing{ModelID: "c-200", ModelName: "C", ProviderModel: "acme/c", GenerationType: enums.GenerationImage, PriceCents: 200, BillingUnit: enums.BillingFlat, IsActive: true})
	userID := uuid.New()
	fund(t, svc, userID, 300)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.DeductCredits(ctx, userID, DeductInput{ModelID: "c-200", GenerationType: enums.GenerationImage})
			if err != nil {
				t.Errorf("deduct: %v", err)
				return
			}
			if res.Success {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance.Balance)
	assert.Equal(t, balance.Balance, transactionSum(t, client, userID))
}

func TestTransactionsSumToBalance(t *testing.T) {
	client, svc := newTestLedger(t)
	ctx := context.Background()
	userID := uuid.New()

	fund(t, svc, userID, 500)
	_, err := svc.AddCredits(ctx, userID, AddInput{Amount: 65, Type: enums.TransactionBonus})
	require.NoError(t, err)
	res, err := svc.DeductCredits(ctx, userID, DeductInput{ModelID: "fallback", GenerationType: enums.GenerationVideo, PredictionID: "p-1"})
	require.NoError(t, err)
	require.True(t, res.Success)
	_, err = svc.Refund(ctx, userID, RefundInput{Amount: 40, PredictionID: "p-1", TransactionID: res.Transaction.ID})
	require.NoError(t, err)
	_, err = svc.DeductCredits(ctx, userID, DeductInput{ModelID: "fallback", GenerationType: enums.GenerationImage})
	require.NoError(t, err)

	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(545), balance.Balance)
	assert.Equal(t, balance.Balance, transactionSum(t, client, userID))
	assert.Equal(t, int64(500), balance.LifetimePurchased)
}

func TestDeductFreeModelWritesNoLedgerRow(t *testing.T) {
	client, svc := newTestLedger(t)
	ctx := context.Background()
	seedPricing(t, client, models.ModelPricing{ModelID: "free-preview", ModelName: "Preview", ProviderModel: "acme/preview", GenerationType: enums.GenerationImage, PriceCents: 0, BillingUnit: enums.BillingFlat, IsActive: true})
	userID := uuid.New()
	fund(t, svc, userID, 30)

	res, err := svc.DeductCredits(ctx, userID, DeductInput{ModelID: "free-preview", GenerationType: enums.GenerationImage, PredictionID: "pred-free"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Transaction)
	assert.Equal(t, int64(30), res.NewBalance)

	var count int64
	require.NoError(t, client.DB().Model(&models.CreditTransaction{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(30), transactionSum(t, client, userID))
}

func TestDeductReusedPredictionIsConflict(t *testing.T) {
	client, svc := newTestLedger(t)
	ctx := context.Background()
	userID := uuid.New()
	fund(t, svc, userID, 100)

	input := DeductInput{ModelID: "fallback", GenerationType: enums.GenerationImage, PredictionID: "pred-dup"}
	first, err := svc.DeductCredits(ctx, userID, input)
	require.NoError(t, err)
	require.True(t, first.Success)

	_, err = svc.DeductCredits(ctx, userID, input)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(80), balance.Balance)
	assert.Equal(t, int64(80), transactionSum(t, client, userID))
}

func TestLedgerSchemaEnforcesConstraints(t *testing.T) {
	client, _ := newTestLedger(t)
	userID := uuid.New()
	pred := "pred-schema"

	require.NoError(t, client.DB().Create(&models.CreditTransaction{UserID: userID, Amount: 5, Type: enums.TransactionRefund, Description: "refund", PredictionID: &pred, BalanceAfter: 5}).Error)
	err := client.DB().Create(&models.CreditTransaction{UserID: userID, Amount: 5, Type: enums.TransactionRefund, Description: "refund", PredictionID: &pred, BalanceAfter: 10}).Error
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err, ""))

	// Bonus rows sit outside the partial index.
	require.NoError(t, client.DB().Create(&models.CreditTransaction{UserID: userID, Amount: 1, Type: enums.TransactionBonus, Description: "a", PredictionID: &pred, BalanceAfter: 6}).Error)
	require.NoError(t, client.DB().Create(&models.CreditTransaction{UserID: userID, Amount: 1, Type: enums.TransactionBonus, Description: "b", PredictionID: &pred, BalanceAfter: 7}).Error)

	require.Error(t, client.DB().Create(&models.CreditTransaction{UserID: userID, Amount: 0, Type: enums.TransactionBonus, Description: "zero", BalanceAfter: 7}).Error)
	require.Error(t, client.DB().Create(&models.CreditTransaction{UserID: userID, Amount: 1, Type: "gift", Description: "bad type", BalanceAfter: 8}).Error)
}

func TestRefundIsIdempotentPerPrediction(t *testing.T) {
	client, svc := newTestLedger(t)
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.Refund(ctx, userID, RefundInput{Amount: 20, PredictionID: "p-9"})
	require.NoError(t, err)
	second, err := svc.Refund(ctx, userID, RefundInput{Amount: 20, PredictionID: "p-9"})
	require.NoError(t, err)

	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, enums.TransactionRefund, first.Transaction.Type)
	assert.Equal(t, int64(20), transactionSum(t, client, userID))
}

func TestAddCreditsValidation(t *testing.T) {
	_, svc := newTestLedger(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.AddCredits(ctx, userID, AddInput{Amount: 0})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.AddCredits(ctx, userID, AddInput{Amount: 10, Type: enums.TransactionGeneration})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	res, err := svc.AddCredits(ctx, userID, AddInput{Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionPurchase, res.Transaction.Type)
	assert.Equal(t, "purchase - 10 credits", res.Transaction.Description)

	grant, err := svc.AddCredits(ctx, userID, AddInput{Amount: 5, Type: enums.TransactionAdminGrant, Metadata: map[string]any{"granted_by": "ops@palette.test"}})
	require.NoError(t, err)
	assert.Equal(t, int64(15), grant.NewBalance)
	assert.Equal(t, "ops@palette.test", grant.Transaction.Metadata.Map()["granted_by"])

	balance, err := svc.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance.LifetimePurchased)
}

func TestDeductOverrideAmount(t *testing.T) {
	_, svc := newTestLedger(t)
	ctx := context.Background()
	userID := uuid.New()
	fund(t, svc, userID, 100)

	override := int64(7)
	res, err := svc.DeductCredits(ctx, userID, DeductInput{ModelID: "x", OverrideAmount: &override})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, int64(93), res.NewBalance)

	bad := int64(-1)
	_, err = svc.DeductCredits(ctx, userID, DeductInput{ModelID: "x", OverrideAmount: &bad})
	require.Error(t, err)
}

func TestListTransactionsPaging(t *testing.T) {
	client, svc := newTestLedger(t)
	ctx := context.Background()
	userID := uuid.New()
	repo := NewRepository(client.DB())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.CreateTransaction(ctx, &models.CreditTransaction{
			UserID:       userID,
			Amount:       int64(i + 1),
			Type:         enums.TransactionBonus,
			Description:  "seed",
			BalanceAfter: int64(i + 1),
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
		}))
	}

	page, err := svc.ListTransactions(ctx, userID, ListParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(3), page.Transactions[0].Amount)
	assert.Equal(t, int64(2), page.Transactions[1].Amount)

	page, err = svc.ListTransactions(ctx, userID, ListParams{Limit: 500, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 100, page.Limit)
	require.Len(t, page.Transactions, 1)
	assert.False(t, page.HasMore)

	page, err = svc.ListTransactions(ctx, userID, ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 50, page.Limit)
}

func TestListPricingSkipsInactive(t *testing.T) {
	client, svc := newTestLedger(t)
	seedPricing(t, client,
		models.ModelPricing{ModelID: "a", ModelName: "A", ProviderModel: "acme/a", GenerationType: enums.GenerationImage, PriceCents: 6, BillingUnit: enums.BillingFlat, IsActive: true},
		models.ModelPricing{ModelID: "b", ModelName: "B", ProviderModel: "acme/b", GenerationType: enums.GenerationVideo, PriceCents: 40, BillingUnit: enums.BillingPerSecond, IsActive: true},
	)
	require.NoError(t, client.DB().Model(&models.ModelPricing{}).Where("model_id = ?", "b").Update("is_active", false).Error)

	rows, err := svc.ListPricing(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].ModelID)
	assert.Equal(t, "$0.06", rows[0].FormattedPrice)
}
