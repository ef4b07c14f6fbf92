package replicate

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/angelmondragon/palette-backend/pkg/enums"
)

// Prediction is the provider's view of one job.
type Prediction struct {
	ID          string            `json:"id"`
	Model       string            `json:"model,omitempty"`
	Version     string            `json:"version,omitempty"`
	Status      string            `json:"status"`
	Output      Output            `json:"output"`
	Error       ErrorText         `json:"error"`
	CreatedAt   *time.Time        `json:"created_at,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	URLs        map[string]string `json:"urls,omitempty"`
}

// ParsedStatus maps the raw status onto the known provider statuses.
func (p *Prediction) ParsedStatus() (enums.PredictionStatus, error) {
	return enums.ParsePredictionStatus(p.Status)
}

// FirstOutput returns the first output URL, or "" when there is none.
func (p *Prediction) FirstOutput() string {
	return p.Output.First()
}

// Output normalizes the provider's output field, which is either a single URL or a
// list of URLs depending on the model.
type Output []string

func (o *Output) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*o = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*o = nil
		} else {
			*o = Output{single}
		}
		return nil
	}

	var list []any
	if err := json.Unmarshal(data, &list); err != nil {
		// structured outputs (text models, JSON objects) carry no relocatable URL
		*o = nil
		return nil
	}
	out := make(Output, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	*o = out
	return nil
}

// First returns the first entry or "".
func (o Output) First() string {
	if len(o) == 0 {
		return ""
	}
	return o[0]
}

// ErrorText flattens the provider error, which may be a string or an object.
type ErrorText string

func (e *ErrorText) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*e = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = ErrorText(s)
		return nil
	}
	*e = ErrorText(trimmed)
	return nil
}

func (e ErrorText) String() string {
	return string(e)
}
