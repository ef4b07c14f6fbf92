package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/palette-backend/api/middleware"
	"github.com/angelmondragon/palette-backend/api/responses"
	"github.com/angelmondragon/palette-backend/internal/predictions"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/google/uuid"
)

type predictionPoller interface {
	Poll(ctx context.Context, userID uuid.UUID, predictionID string) (*predictions.PollResult, error)
}

func PollPrediction(svc predictionPoller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "predictionID")
		if logg != nil {
			ctx = logg.WithPredictionID(ctx, id)
		}
		res, err := svc.Poll(ctx, middleware.UserIDFromContext(ctx), id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}
