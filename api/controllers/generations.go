package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/palette-backend/api/middleware"
	"github.com/angelmondragon/palette-backend/api/responses"
	"github.com/angelmondragon/palette-backend/api/validators"
	"github.com/angelmondragon/palette-backend/internal/generations"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	"github.com/angelmondragon/palette-backend/pkg/logger"
)

type generationSubmitter interface {
	Submit(ctx context.Context, input generations.SubmitInput) (*generations.SubmitResult, error)
}

type submitGenerationRequest struct {
	ModelID         string         `json:"model_id" validate:"required,max=128"`
	GenerationType  string         `json:"generation_type" validate:"required,oneof=image video audio text"`
	DurationSeconds int            `json:"duration_seconds" validate:"omitempty,min=1,max=600"`
	Input           map[string]any `json:"input" validate:"required"`
}

// SubmitGeneration charges the caller and starts a provider prediction. Admins
// resolved by middleware bypass the ledger.
func SubmitGeneration(svc generationSubmitter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req submitGenerationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		res, err := svc.Submit(ctx, generations.SubmitInput{
			UserID:          middleware.UserIDFromContext(ctx),
			ModelID:         req.ModelID,
			GenerationType:  enums.GenerationType(req.GenerationType),
			Input:           req.Input,
			DurationSeconds: req.DurationSeconds,
			BypassCredits:   middleware.IsAdminFromContext(ctx),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, res)
	}
}
