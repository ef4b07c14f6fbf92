package types

// ErrorResponse is the body written for every client-facing failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// WebhookAck acknowledges a processed (or intentionally ignored) webhook delivery.
type WebhookAck struct {
	Received bool `json:"received"`
}
