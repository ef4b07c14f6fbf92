package predictions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/palette-backend/internal/credits"
	"github.com/angelmondragon/palette-backend/internal/gallery"
	"github.com/angelmondragon/palette-backend/pkg/db/models"
	"github.com/angelmondragon/palette-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/logger"
	"github.com/angelmondragon/palette-backend/pkg/metrics"
	"github.com/angelmondragon/palette-backend/pkg/replicate"
	"github.com/angelmondragon/palette-backend/pkg/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	sourceWebhook = "webhook"
	sourcePoll    = "poll"

	noOutputMessage = "Generation succeeded but produced no output"

	// Gallery metadata written at submission and read back for refunds.
	MetaCreditsCharged      = "credits_charged"
	MetaCreditTransactionID = "credit_transaction_id"
	MetaOutputFormat        = "output_format"
)

var errEntryFailed = errors.New("prediction already marked failed")

type galleryStore interface {
	FindByPredictionID(ctx context.Context, predictionID string) (*models.GalleryEntry, error)
	MarkProcessing(ctx context.Context, predictionID string) (bool, error)
	MarkCompleted(ctx context.Context, predictionID string, c gallery.Completion) (bool, error)
	MarkFailed(ctx context.Context, predictionID string, metadata models.JSON) (bool, error)
}

type relocator interface {
	Relocate(ctx context.Context, rawURL, ownerID, logicalName, defaultExt string) (*storage.Object, error)
}

type predictionFetcher interface {
	GetPrediction(ctx context.Context, id string) (*replicate.Prediction, error)
}

type refunder interface {
	Refund(ctx context.Context, userID uuid.UUID, input credits.RefundInput) (*credits.MutationResult, error)
}

// Options tunes the reconciler.
type Options struct {
	CacheSize       int
	RefundOnFailure bool
}

// Result is the state of a gallery entry after a notification was applied.
type Result struct {
	PredictionID string
	Status       enums.GalleryStatus
	PublicURL    string
	Duplicate    bool
	Ignored      bool
}

// Reconciler moves gallery entries to their terminal state from provider
// webhooks and client polls. Relocation for a prediction runs at most once per
// process at a time; the conditional terminal update settles cross-process races.
type Reconciler struct {
	gallery  galleryStore
	relocate relocator
	provider predictionFetcher
	refunds  refunder
	cache    *URLCache
	group    singleflight.Group
	logg     *logger.Logger
	metrics  *metrics.PredictionMetrics
	tracer   trace.Tracer
	refund   bool
	now      func() time.Time
}

func NewReconciler(
	store galleryStore,
	reloc relocator,
	provider predictionFetcher,
	refunds refunder,
	logg *logger.Logger,
	m *metrics.PredictionMetrics,
	opts Options,
) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("gallery store required")
	}
	if reloc == nil {
		return nil, fmt.Errorf("relocator required")
	}
	if provider == nil {
		return nil, fmt.Errorf("prediction provider required")
	}
	if opts.RefundOnFailure && refunds == nil {
		return nil, fmt.Errorf("refunds enabled without a credits service")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Reconciler{
		gallery:  store,
		relocate: reloc,
		provider: provider,
		refunds:  refunds,
		cache:    NewURLCache(opts.CacheSize),
		logg:     logg,
		metrics:  m,
		tracer:   otel.Tracer("palette/predictions"),
		refund:   opts.RefundOnFailure,
		now:      time.Now,
	}, nil
}

// ProcessCompletedPrediction applies a verified webhook event. A returned
// error means the provider should redeliver.
func (r *Reconciler) ProcessCompletedPrediction(ctx context.Context, ev Event) (*Result, error) {
	ctx = r.logg.WithPredictionID(ctx, ev.ID)
	entry, err := r.gallery.FindByPredictionID(ctx, ev.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load gallery entry")
	}
	if entry == nil {
		r.logg.Warn(ctx, "prediction.unknown")
		return &Result{PredictionID: ev.ID, Ignored: true}, nil
	}
	if entry.Status.IsTerminal() {
		r.metrics.IncOutcome(sourceWebhook, metrics.OutcomeDuplicate)
		r.logg.Info(r.logg.WithField(ctx, "status", entry.Status.String()), "prediction.duplicate")
		return resultFromEntry(entry, true), nil
	}

	switch ev.Status {
	case enums.PredictionStarting, enums.PredictionProcessing:
		if _, err := r.gallery.MarkProcessing(ctx, ev.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark processing")
		}
		return &Result{PredictionID: ev.ID, Status: enums.GalleryStatusProcessing}, nil
	case enums.PredictionSucceeded:
		url := ev.FirstOutput()
		if url == "" {
			return r.fail(ctx, sourceWebhook, entry, noOutputMessage)
		}
		res, err := r.complete(ctx, sourceWebhook, entry, url, ev.OutputFormat)
		if err != nil {
			return nil, err
		}
		return res, nil
	default:
		msg := strings.TrimSpace(ev.Error)
		if msg == "" && ev.Status == enums.PredictionCanceled {
			msg = "Prediction was canceled"
		} else if msg == "" {
			msg = "Prediction failed"
		}
		return r.fail(ctx, sourceWebhook, entry, msg)
	}
}

type completion struct {
	url string
	won bool
}

// complete relocates the provider artifact and persists the durable URL.
// Concurrent callers for the same prediction share one relocation.
func (r *Reconciler) complete(ctx context.Context, source string, entry *models.GalleryEntry, providerURL, format string) (*Result, error) {
	executed := false
	v, err, _ := r.group.Do(entry.PredictionID, func() (any, error) {
		executed = true
		return r.relocateAndPersist(ctx, source, entry, providerURL, format)
	})
	if errors.Is(err, errEntryFailed) {
		latest, lerr := r.gallery.FindByPredictionID(ctx, entry.PredictionID)
		if lerr != nil || latest == nil {
			return &Result{PredictionID: entry.PredictionID, Status: enums.GalleryStatusFailed, Duplicate: true}, nil
		}
		return resultFromEntry(latest, true), nil
	}
	if err != nil {
		return nil, err
	}
	done := v.(completion)
	if !executed || !done.won {
		r.metrics.IncOutcome(source, metrics.OutcomeDuplicate)
	}
	return &Result{
		PredictionID: entry.PredictionID,
		Status:       enums.GalleryStatusCompleted,
		PublicURL:    done.url,
		Duplicate:    !executed || !done.won,
	}, nil
}

func (r *Reconciler) relocateAndPersist(ctx context.Context, source string, entry *models.GalleryEntry, providerURL, format string) (completion, error) {
	current, err := r.gallery.FindByPredictionID(ctx, entry.PredictionID)
	if err != nil {
		return completion{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload gallery entry")
	}
	if current == nil {
		current = entry
	}
	switch current.Status {
	case enums.GalleryStatusCompleted:
		return completion{url: derefString(current.PublicURL)}, nil
	case enums.GalleryStatusFailed:
		return completion{}, errEntryFailed
	}

	if format == "" {
		format, _ = current.Metadata.Map()[MetaOutputFormat].(string)
	}
	if format == "" {
		format = current.GenerationType.DefaultExtension()
	}

	obj, err := r.relocateTraced(ctx, current, providerURL, format)
	if err != nil {
		r.metrics.IncOutcome(source, metrics.OutcomeRelocationError)
		r.logg.Error(r.logg.WithFields(ctx, map[string]any{
			"source":        source,
			"retryable":     storage.IsRetryable(err),
			"replicate_url": providerURL,
		}), "prediction.relocation_failed", err)
		return completion{}, pkgerrors.Wrap(pkgerrors.CodeProcessing, err, "relocate prediction output")
	}

	meta, err := current.Metadata.Merge(map[string]any{
		"replicate_url": providerURL,
		"completed_at":  r.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return completion{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gallery metadata")
	}

	won, err := r.gallery.MarkCompleted(ctx, current.PredictionID, gallery.Completion{
		PublicURL:   obj.URL,
		StoragePath: obj.Key,
		FileSize:    obj.Size,
		MimeType:    obj.MimeType,
		Metadata:    meta,
	})
	if err != nil {
		return completion{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark completed")
	}
	if !won {
		// Another process settled the entry between reload and update.
		latest, err := r.gallery.FindByPredictionID(ctx, current.PredictionID)
		if err != nil {
			return completion{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload gallery entry")
		}
		if latest != nil && latest.Status == enums.GalleryStatusFailed {
			return completion{}, errEntryFailed
		}
		if latest != nil && latest.PublicURL != nil {
			return completion{url: *latest.PublicURL}, nil
		}
		return completion{url: obj.URL}, nil
	}

	r.metrics.IncOutcome(source, metrics.OutcomeCompleted)
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"source":       source,
		"storage_path": obj.Key,
		"file_size":    obj.Size,
	}), "prediction.completed")
	return completion{url: obj.URL, won: true}, nil
}

func (r *Reconciler) relocateTraced(ctx context.Context, entry *models.GalleryEntry, providerURL, format string) (*storage.Object, error) {
	ctx, span := r.tracer.Start(ctx, "RelocateOutput",
		trace.WithAttributes(
			attribute.String("prediction.id", entry.PredictionID),
			attribute.String("generation.type", entry.GenerationType.String()),
		),
	)
	defer span.End()

	start := time.Now()
	obj, err := r.relocate.Relocate(ctx, providerURL, entry.UserID.String(), entry.PredictionID, format)
	r.metrics.ObserveRelocation(entry.GenerationType.String(), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "relocation failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("object.size", obj.Size))
	return obj, nil
}

// fail marks the entry failed with the provider's message and, when enabled,
// returns the pre-paid credits.
func (r *Reconciler) fail(ctx context.Context, source string, entry *models.GalleryEntry, message string) (*Result, error) {
	meta, err := entry.Metadata.Merge(map[string]any{
		"error":     message,
		"failed_at": r.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gallery metadata")
	}
	won, err := r.gallery.MarkFailed(ctx, entry.PredictionID, meta)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark failed")
	}
	if !won {
		r.metrics.IncOutcome(source, metrics.OutcomeDuplicate)
		latest, err := r.gallery.FindByPredictionID(ctx, entry.PredictionID)
		if err != nil || latest == nil {
			return &Result{PredictionID: entry.PredictionID, Status: enums.GalleryStatusFailed, Duplicate: true}, nil
		}
		return resultFromEntry(latest, true), nil
	}

	r.metrics.IncOutcome(source, metrics.OutcomeFailed)
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"source": source, "error": message}), "prediction.failed")
	r.refundFailed(ctx, entry)
	return &Result{PredictionID: entry.PredictionID, Status: enums.GalleryStatusFailed}, nil
}

func (r *Reconciler) refundFailed(ctx context.Context, entry *models.GalleryEntry) {
	if !r.refund || r.refunds == nil {
		return
	}
	meta := entry.Metadata.Map()
	charged, _ := meta[MetaCreditsCharged].(float64)
	if charged <= 0 {
		return
	}
	input := credits.RefundInput{
		Amount:       int64(charged),
		PredictionID: entry.PredictionID,
		Reason:       "Refund for failed generation",
	}
	if raw, ok := meta[MetaCreditTransactionID].(string); ok {
		if id, err := uuid.Parse(raw); err == nil {
			input.TransactionID = id
		}
	}
	if _, err := r.refunds.Refund(ctx, entry.UserID, input); err != nil {
		r.logg.Error(ctx, "prediction.refund_failed", err)
	}
}

func resultFromEntry(entry *models.GalleryEntry, duplicate bool) *Result {
	return &Result{
		PredictionID: entry.PredictionID,
		Status:       entry.Status,
		PublicURL:    derefString(entry.PublicURL),
		Duplicate:    duplicate,
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
