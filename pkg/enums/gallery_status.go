package enums

import (
	"fmt"
	"strings"
)

// GalleryStatus tracks a generation from submission to its terminal state.
type GalleryStatus string

const (
	GalleryStatusPending    GalleryStatus = "pending"
	GalleryStatusProcessing GalleryStatus = "processing"
	GalleryStatusCompleted  GalleryStatus = "completed"
	GalleryStatusFailed     GalleryStatus = "failed"
)

var validGalleryStatuses = []GalleryStatus{
	GalleryStatusPending,
	GalleryStatusProcessing,
	GalleryStatusCompleted,
	GalleryStatusFailed,
}

// String returns the literal string for the status.
func (s GalleryStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s GalleryStatus) IsValid() bool {
	for _, candidate := range validGalleryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s GalleryStatus) IsTerminal() bool {
	return s == GalleryStatusCompleted || s == GalleryStatusFailed
}

// OpenGalleryStatuses lists the states a reconciler may still move out of.
func OpenGalleryStatuses() []string {
	return []string{string(GalleryStatusPending), string(GalleryStatusProcessing)}
}

// ParseGalleryStatus converts raw input into a GalleryStatus.
func ParseGalleryStatus(value string) (GalleryStatus, error) {
	for _, candidate := range validGalleryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gallery status %q", value)
}

// PredictionStatus is the lifecycle status reported by the prediction provider.
type PredictionStatus string

const (
	PredictionStarting   PredictionStatus = "starting"
	PredictionProcessing PredictionStatus = "processing"
	PredictionSucceeded  PredictionStatus = "succeeded"
	PredictionFailed     PredictionStatus = "failed"
	PredictionCanceled   PredictionStatus = "canceled"
)

// ParsePredictionStatus converts a provider status string, case-insensitively.
func ParsePredictionStatus(value string) (PredictionStatus, error) {
	switch status := PredictionStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case PredictionStarting, PredictionProcessing, PredictionSucceeded, PredictionFailed, PredictionCanceled:
		return status, nil
	default:
		return "", fmt.Errorf("invalid prediction status %q", value)
	}
}

func (p PredictionStatus) String() string {
	return string(p)
}

// GalleryStatus maps the provider status onto the local lifecycle.
func (p PredictionStatus) GalleryStatus() GalleryStatus {
	switch p {
	case PredictionSucceeded:
		return GalleryStatusCompleted
	case PredictionFailed, PredictionCanceled:
		return GalleryStatusFailed
	default:
		return GalleryStatusProcessing
	}
}

// IsTerminal reports whether the provider finished the job.
func (p PredictionStatus) IsTerminal() bool {
	return p.GalleryStatus().IsTerminal()
}
