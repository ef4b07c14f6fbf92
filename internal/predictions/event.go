package predictions

import (
	"encoding/json"
	"strings"

	"github.com/angelmondragon/palette-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/replicate"
)

// Event is a verified provider notification about one prediction.
type Event struct {
	ID           string
	Status       enums.PredictionStatus
	Output       []string
	Error        string
	OutputFormat string
}

type webhookBody struct {
	replicate.Prediction
	Input struct {
		OutputFormat string `json:"output_format"`
	} `json:"input"`
}

// ParseEvent decodes a webhook body. The id and a known status are required.
func ParseEvent(body []byte) (Event, error) {
	var payload webhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	id := strings.TrimSpace(payload.ID)
	if id == "" {
		return Event{}, pkgerrors.New(pkgerrors.CodeValidation, "prediction id is required")
	}
	status, err := payload.ParsedStatus()
	if err != nil {
		return Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown prediction status")
	}
	return Event{
		ID:           id,
		Status:       status,
		Output:       payload.Output,
		Error:        payload.Error.String(),
		OutputFormat: strings.TrimSpace(payload.Input.OutputFormat),
	}, nil
}

// FirstOutput returns the artifact URL to persist.
func (e Event) FirstOutput() string {
	for _, out := range e.Output {
		if out = strings.TrimSpace(out); out != "" {
			return out
		}
	}
	return ""
}
