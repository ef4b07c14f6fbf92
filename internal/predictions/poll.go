package predictions

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/metrics"
	"github.com/angelmondragon/palette-backend/pkg/replicate"
	"github.com/google/uuid"
)

const fallbackWarning = "Output could not be persisted; the provider URL may expire"

// PollResult is the status payload returned to the polling client.
type PollResult struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Output      []string   `json:"output"`
	Error       *string    `json:"error"`
	CreatedAt   *time.Time `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt"`
	Warning     string     `json:"warning,omitempty"`
}

// Poll reports the provider status of predictionID to its owner and persists a
// successful artifact that the webhook has not delivered yet.
func (r *Reconciler) Poll(ctx context.Context, userID uuid.UUID, predictionID string) (*PollResult, error) {
	predictionID = strings.TrimSpace(predictionID)
	if predictionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prediction id is required")
	}
	ctx = r.logg.WithPredictionID(ctx, predictionID)

	entry, err := r.gallery.FindByPredictionID(ctx, predictionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load gallery entry")
	}
	if entry != nil && entry.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "prediction not found")
	}

	pred, err := r.provider.GetPrediction(ctx, predictionID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "prediction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch prediction status")
	}
	status, err := pred.ParsedStatus()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unexpected prediction status")
	}

	out := newPollResult(predictionID, pred)

	switch status {
	case enums.PredictionSucceeded:
		providerURL := pred.FirstOutput()
		if providerURL == "" {
			if entry != nil {
				if _, err := r.fail(ctx, sourcePoll, entry, noOutputMessage); err != nil {
					return nil, err
				}
			}
			out.Output = []string{}
			return out, nil
		}
		if entry == nil && !isArtifactURL(providerURL) {
			return out, nil
		}
		durable, err := r.persistPolled(ctx, userID, entry, predictionID, providerURL)
		if err != nil {
			r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "prediction.poll.fallback")
			out.Warning = fallbackWarning
			return out, nil
		}
		out.Output = []string{durable}
	case enums.PredictionFailed, enums.PredictionCanceled:
		if entry != nil {
			msg := pred.Error.String()
			if msg == "" {
				msg = "Prediction " + status.String()
			}
			if _, err := r.fail(ctx, sourcePoll, entry, msg); err != nil {
				return nil, err
			}
		}
	default:
		if entry != nil && !entry.Status.IsTerminal() {
			if _, err := r.gallery.MarkProcessing(ctx, predictionID); err != nil {
				r.logg.Error(ctx, "prediction.poll.mark_processing_failed", err)
			}
		}
	}
	return out, nil
}

// persistPolled returns the durable URL for a succeeded prediction. With a
// gallery entry it shares the webhook completion path; without one the artifact
// is relocated under the polling user and remembered in the URL cache.
func (r *Reconciler) persistPolled(ctx context.Context, userID uuid.UUID, entry *models.GalleryEntry, predictionID, providerURL string) (string, error) {
	if entry != nil {
		if entry.Status == enums.GalleryStatusCompleted && entry.PublicURL != nil {
			r.metrics.IncOutcome(sourcePoll, metrics.OutcomeDuplicate)
			return *entry.PublicURL, nil
		}
		res, err := r.complete(ctx, sourcePoll, entry, providerURL, "")
		if err != nil {
			return "", err
		}
		if res.PublicURL == "" {
			return "", pkgerrors.New(pkgerrors.CodeProcessing, "prediction has no persisted output")
		}
		return res.PublicURL, nil
	}

	if cached, ok := r.cache.Get(predictionID, userID); ok {
		return cached, nil
	}
	v, err, _ := r.group.Do("cache:"+predictionID, func() (any, error) {
		if cached, ok := r.cache.Get(predictionID, userID); ok {
			return cached, nil
		}
		obj, err := r.relocate.Relocate(ctx, providerURL, userID.String(), predictionID, enums.GenerationImage.DefaultExtension())
		if err != nil {
			r.metrics.IncOutcome(sourcePoll, metrics.OutcomeRelocationError)
			return "", err
		}
		r.cache.Put(predictionID, userID, obj.URL)
		r.metrics.IncOutcome(sourcePoll, metrics.OutcomeCompleted)
		return obj.URL, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// isArtifactURL filters out text outputs, which the provider returns inline.
func isArtifactURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

func newPollResult(id string, pred *replicate.Prediction) *PollResult {
	out := &PollResult{
		ID:          id,
		Status:      strings.ToLower(pred.Status),
		Output:      []string(pred.Output),
		CreatedAt:   pred.CreatedAt,
		CompletedAt: pred.CompletedAt,
	}
	if out.Output == nil {
		out.Output = []string{}
	}
	if msg := pred.Error.String(); msg != "" {
		out.Error = &msg
	}
	return out
}
