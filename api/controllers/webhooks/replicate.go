package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/angelmondragon/palette-backend/api/responses"
	"github.com/angelmondragon/palette-backend/internal/predictions"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/angelmondragon/palette-backend/pkg/types"
	"github.com/angelmondragon/palette-backend/pkg/webhook"
)

const maxWebhookBody = 1 << 20

type predictionReconciler interface {
	ProcessCompletedPrediction(ctx context.Context, ev predictions.Event) (*predictions.Result, error)
}

type signingSecrets interface {
	Secret(ctx context.Context) (string, error)
	Invalidate() bool
}

type signatureVerifier interface {
	TimestampValid(ts string) bool
	VerifySignature(id, ts string, body []byte, header, secret string) bool
}

type deliveryGuard interface {
	Claim(ctx context.Context, deliveryID string) (bool, error)
	Release(ctx context.Context, deliveryID string) error
}

// ReplicateParams wires the provider webhook endpoint. Guard is optional.
type ReplicateParams struct {
	Reconciler predictionReconciler
	Secrets    signingSecrets
	Verifier   signatureVerifier
	Guard      deliveryGuard
	Logger     *logger.Logger
	Timeout    time.Duration
}

// ReplicateWebhook verifies and applies a prediction completion delivery. Any
// non-2xx response makes the provider redeliver.
func ReplicateWebhook(p ReplicateParams) http.HandlerFunc {
	logg := p.Logger
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if p.Reconciler == nil || p.Secrets == nil || p.Verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook handler not configured"))
			return
		}

		headers, err := webhook.ParseHeaders(r.Header)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "missing webhook headers"))
			return
		}
		if logg != nil {
			ctx = logg.WithField(ctx, "webhook_id", headers.ID)
		}

		if !p.Verifier.TimestampValid(headers.Timestamp) {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "event", "webhook.timestamp.stale"), "webhook timestamp outside tolerance")
			}
			responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook timestamp too old"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		ok, err := verify(ctx, p, headers, body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load signing secret"))
			return
		}
		if !ok {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "event", "webhook.signature.rejected"), "webhook signature rejected")
			}
			responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "invalid signature"))
			return
		}

		ev, err := predictions.ParseEvent(body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload"))
			return
		}
		if logg != nil {
			ctx = logg.WithPredictionID(ctx, ev.ID)
		}

		if p.Guard != nil {
			claimed, err := p.Guard.Claim(ctx, headers.ID)
			switch {
			case err != nil:
				// the conditional gallery transitions still dedupe
				if logg != nil {
					logg.Error(ctx, "webhook.guard_unavailable", err)
				}
			case !claimed:
				if logg != nil {
					logg.Info(ctx, "webhook.duplicate_delivery")
				}
				responses.WriteSuccess(w, types.WebhookAck{Received: true})
				return
			}
		}

		procCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			procCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		if _, err := p.Reconciler.ProcessCompletedPrediction(procCtx, ev); err != nil {
			if p.Guard != nil {
				if relErr := p.Guard.Release(context.WithoutCancel(ctx), headers.ID); relErr != nil && logg != nil {
					logg.Error(ctx, "webhook.guard_release_failed", relErr)
				}
			}
			if errors.Is(err, context.DeadlineExceeded) {
				err = pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "webhook processing timed out")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, types.WebhookAck{Received: true})
	}
}

// verify checks the signature against the cached secret, refetching once on a
// mismatch in case the provider rotated it. The cache decides whether the
// refetch is allowed yet.
func verify(ctx context.Context, p ReplicateParams, headers webhook.Headers, body []byte) (bool, error) {
	secret, err := p.Secrets.Secret(ctx)
	if err != nil {
		return false, err
	}
	if p.Verifier.VerifySignature(headers.ID, headers.Timestamp, body, headers.Signature, secret) {
		return true, nil
	}

	if !p.Secrets.Invalidate() {
		return false, nil
	}
	rotated, err := p.Secrets.Secret(ctx)
	if err != nil {
		return false, err
	}
	if rotated == secret {
		return false, nil
	}
	return p.Verifier.VerifySignature(headers.ID, headers.Timestamp, body, headers.Signature, rotated), nil
}
