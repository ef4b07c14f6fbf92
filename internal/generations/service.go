// Package generations submits paid predictions to the provider and records
// them in the gallery for the reconciler to finish.
package generations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/palette-backend/internal/credits"
	"github.com/angelmondragon/palette-backend/internal/predictions"
	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/angelmondragon/palette-backend/pkg/replicate"
	"github.com/google/uuid"
)

type ledger interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*credits.Balance, error)
	Quote(ctx context.Context, q credits.CostQuery) (credits.Cost, error)
	DeductCredits(ctx context.Context, userID uuid.UUID, input credits.DeductInput) (*credits.DeductResult, error)
	Refund(ctx context.Context, userID uuid.UUID, input credits.RefundInput) (*credits.MutationResult, error)
}

type predictionCreator interface {
	CreatePrediction(ctx context.Context, req replicate.CreatePredictionRequest) (*replicate.Prediction, error)
}

type galleryWriter interface {
	Create(ctx context.Context, entry *models.GalleryEntry) error
}

// SubmitInput is one generation request. BypassCredits is set by the
// controller for administrators only.
type SubmitInput struct {
	UserID          uuid.UUID
	ModelID         string
	GenerationType  enums.GenerationType
	Input           map[string]any
	DurationSeconds int
	BypassCredits   bool
}

// SubmitResult is returned once the provider accepted the job.
type SubmitResult struct {
	PredictionID     string `json:"prediction_id"`
	Status           string `json:"status"`
	ModelName        string `json:"model_name"`
	CreditsCharged   int64  `json:"credits_charged"`
	NewBalance       int64  `json:"new_balance"`
	FormattedBalance string `json:"formatted_balance"`
}

// Options carries the submission settings taken from config.
type Options struct {
	WebhookURL     string
	VideoRetention time.Duration
}

type Service interface {
	Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error)
}

type service struct {
	credits  ledger
	provider predictionCreator
	gallery  galleryWriter
	logg     *logger.Logger
	opts     Options
	now      func() time.Time
}

func NewService(ledgerSvc ledger, provider predictionCreator, gallery galleryWriter, logg *logger.Logger, opts Options) (Service, error) {
	if ledgerSvc == nil {
		return nil, fmt.Errorf("credits service required")
	}
	if provider == nil {
		return nil, fmt.Errorf("prediction provider required")
	}
	if gallery == nil {
		return nil, fmt.Errorf("gallery repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		credits:  ledgerSvc,
		provider: provider,
		gallery:  gallery,
		logg:     logg,
		opts:     opts,
		now:      time.Now,
	}, nil
}

func (s *service) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.Input == nil {
		input.Input = map[string]any{}
	}
	ctx = s.logg.WithUserID(ctx, input.UserID.String())

	query := credits.CostQuery{
		ModelID:         input.ModelID,
		GenerationType:  input.GenerationType,
		DurationSeconds: input.DurationSeconds,
	}
	cost, err := s.credits.Quote(ctx, query)
	if err != nil {
		return nil, err
	}

	var charge *credits.DeductResult
	if !input.BypassCredits {
		charge, err = s.credits.DeductCredits(ctx, input.UserID, credits.DeductInput{
			ModelID:         cost.ModelID,
			GenerationType:  cost.GenerationType,
			DurationSeconds: input.DurationSeconds,
		})
		if err != nil {
			return nil, err
		}
		if !charge.Success {
			return nil, s.insufficient(ctx, input.UserID, cost)
		}
	}

	target := strings.TrimSpace(cost.ProviderModel)
	if target == "" {
		target = cost.ModelID
	}
	req := replicate.CreatePredictionRequest{
		Model: target,
		Input: input.Input,
	}
	if s.opts.WebhookURL != "" {
		req.Webhook = s.opts.WebhookURL
		req.EventsFilter = []string{replicate.EventCompleted}
	}

	pred, err := s.provider.CreatePrediction(ctx, req)
	if err != nil {
		s.compensate(ctx, input.UserID, charge)
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "submit prediction")
	}
	ctx = s.logg.WithPredictionID(ctx, pred.ID)

	if cost.GenerationType.Persistable() {
		if err := s.record(ctx, input, cost, charge, pred.ID); err != nil {
			// the poll path still delivers outputs without an entry
			s.logg.Error(ctx, "generation.gallery_insert_failed", err)
		}
	}

	result := &SubmitResult{
		PredictionID: pred.ID,
		Status:       pred.Status,
		ModelName:    cost.ModelName,
	}
	if charge != nil {
		result.CreditsCharged = charge.Cost.Amount
		result.NewBalance = charge.NewBalance
	} else if bal, err := s.credits.GetBalance(ctx, input.UserID); err == nil {
		result.NewBalance = bal.Balance
	}
	result.FormattedBalance = credits.FormatCredits(result.NewBalance)

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"model_id":        cost.ModelID,
		"generation_type": cost.GenerationType.String(),
		"credits_charged": result.CreditsCharged,
		"bypass":          input.BypassCredits,
	}), "generation.submitted")
	return result, nil
}

func (s *service) record(ctx context.Context, input SubmitInput, cost credits.Cost, charge *credits.DeductResult, predictionID string) error {
	meta := map[string]any{
		"model_id": cost.ModelID,
	}
	if prompt, ok := input.Input["prompt"].(string); ok {
		meta["prompt"] = prompt
	}
	if format, ok := input.Input["output_format"].(string); ok && format != "" {
		meta[predictions.MetaOutputFormat] = format
	}
	if charge != nil {
		meta[predictions.MetaCreditsCharged] = charge.Cost.Amount
		if charge.Transaction != nil {
			meta[predictions.MetaCreditTransactionID] = charge.Transaction.ID.String()
		}
	}
	raw, err := models.NewJSON(meta)
	if err != nil {
		return err
	}

	entry := &models.GalleryEntry{
		UserID:         input.UserID,
		PredictionID:   predictionID,
		Status:         enums.GalleryStatusPending,
		GenerationType: cost.GenerationType,
		ModelID:        cost.ModelID,
		Metadata:       raw,
	}
	if cost.GenerationType == enums.GenerationVideo && s.opts.VideoRetention > 0 {
		expires := s.now().UTC().Add(s.opts.VideoRetention)
		entry.ExpiresAt = &expires
	}
	return s.gallery.Create(ctx, entry)
}

// compensate returns a debit whose prediction never started.
func (s *service) compensate(ctx context.Context, userID uuid.UUID, charge *credits.DeductResult) {
	if charge == nil || !charge.Success || charge.Cost.Amount <= 0 {
		return
	}
	input := credits.RefundInput{
		Amount: charge.Cost.Amount,
		Reason: "Refund for failed submission",
	}
	if charge.Transaction != nil {
		input.TransactionID = charge.Transaction.ID
	}
	if _, err := s.credits.Refund(ctx, userID, input); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "amount", input.Amount), "generation.compensation_failed", err)
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "amount", input.Amount), "generation.compensated")
}

func (s *service) insufficient(ctx context.Context, userID uuid.UUID, cost credits.Cost) error {
	details := map[string]any{
		"required":           cost.Amount,
		"formatted_required": credits.FormatCredits(cost.Amount),
		"model_name":         cost.ModelName,
	}
	if bal, err := s.credits.GetBalance(ctx, userID); err == nil {
		details["balance"] = bal.Balance
		details["formatted_balance"] = bal.FormattedBalance
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientCredits, credits.ReasonInsufficientCredits).WithDetails(details)
}
