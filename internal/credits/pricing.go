package credits

import (
	"context"
	"strings"

	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
)

type fallbackPrice struct {
	price int64
	cost  int64
}

// Fallbacks apply when a model has no active pricing row.
var fallbackPricing = map[enums.GenerationType]fallbackPrice{
	enums.GenerationImage: {price: 20, cost: 15},
	enums.GenerationVideo: {price: 40, cost: 30},
	enums.GenerationAudio: {price: 15, cost: 10},
	enums.GenerationText:  {price: 3, cost: 2},
}

type pricingReader interface {
	FindPricing(ctx context.Context, modelID string) (*models.ModelPricing, error)
}

// CostQuery describes the generation a caller wants priced.
type CostQuery struct {
	ModelID         string
	GenerationType  enums.GenerationType
	DurationSeconds int
}

// Cost is the server-derived charge for a generation.
type Cost struct {
	ModelID        string
	ModelName      string
	ProviderModel  string
	GenerationType enums.GenerationType
	Amount         int64
	UnitPrice      int64
	CostCents      int64
	PerSecond      bool
	Fallback       bool
}

// Pricer resolves what a generation costs. Client supplied amounts never reach it.
type Pricer struct {
	repo pricingReader
}

// NewPricer builds a pricer backed by the pricing table.
func NewPricer(repo pricingReader) *Pricer {
	return &Pricer{repo: repo}
}

// Resolve prices a generation from the active pricing row, falling back to the
// per-type defaults when the model is unknown or inactive.
func (p *Pricer) Resolve(ctx context.Context, q CostQuery) (Cost, error) {
	modelID := strings.TrimSpace(q.ModelID)
	if modelID == "" {
		return Cost{}, pkgerrors.New(pkgerrors.CodeValidation, "model_id is required")
	}
	genType := q.GenerationType
	if genType == "" {
		genType = enums.GenerationImage
	}
	if !genType.IsValid() {
		return Cost{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid generation_type")
	}
	if q.DurationSeconds < 0 {
		return Cost{}, pkgerrors.New(pkgerrors.CodeValidation, "duration must not be negative")
	}

	row, err := p.repo.FindPricing(ctx, modelID)
	if err != nil {
		return Cost{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load model pricing")
	}

	if row == nil {
		fb := fallbackPricing[genType]
		return Cost{
			ModelID:        modelID,
			ModelName:      modelID,
			GenerationType: genType,
			Amount:         fb.price,
			UnitPrice:      fb.price,
			CostCents:      fb.cost,
			Fallback:       true,
		}, nil
	}

	cost := Cost{
		ModelID:        row.ModelID,
		ModelName:      row.ModelName,
		ProviderModel:  row.ProviderModel,
		GenerationType: row.GenerationType,
		Amount:         row.PriceCents,
		UnitPrice:      row.PriceCents,
		CostCents:      row.CostCents,
	}
	if cost.ModelName == "" {
		cost.ModelName = row.ModelID
	}
	if !cost.GenerationType.IsValid() {
		cost.GenerationType = genType
	}
	if row.BillingUnit == enums.BillingPerSecond {
		units := int64(q.DurationSeconds)
		if units < 1 {
			units = 1
		}
		cost.PerSecond = true
		cost.Amount = row.PriceCents * units
		cost.CostCents = row.CostCents * units
	}
	return cost, nil
}
