package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON stores raw JSON in a jsonb (postgres) or text (sqlite) column.
type JSON json.RawMessage

// Value renders the payload as text so it binds cleanly to jsonb.
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan accepts the driver representations used by pgx and sqlite.
func (j *JSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSON(v)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
	return nil
}

// MarshalJSON keeps the payload inline instead of base64-encoding it.
func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON copies the raw payload.
func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// NewJSON marshals v, returning nil for empty input.
func NewJSON(v any) (JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSON(raw), nil
}

// Map decodes an object payload; non-object or empty payloads yield an empty map.
func (j JSON) Map() map[string]any {
	out := map[string]any{}
	if len(j) == 0 {
		return out
	}
	if err := json.Unmarshal(j, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// Merge overlays fields onto the object payload.
func (j JSON) Merge(fields map[string]any) (JSON, error) {
	merged := j.Map()
	for k, v := range fields {
		merged[k] = v
	}
	return NewJSON(merged)
}
