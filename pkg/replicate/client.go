// Package replicate is a minimal client for the Replicate predictions API.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
)

const (
	defaultBaseURL       = "https://api.replicate.com/v1"
	defaultTimeout       = 15 * time.Second
	defaultWebhookSecret = "webhooks/default/secret"

	// EventCompleted is the webhook filter for terminal notifications only.
	EventCompleted = "completed"
)

const errorBodyReadLimit int64 = 1024

var errTokenRequired = errors.New("replicate api token is required")

// Client wraps the predictions and webhook-secret endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds a client authenticated with the given API token.
func NewClient(token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errTokenRequired
	}

	client := &Client{
		token:      trimmed,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// CreatePredictionRequest starts a prediction. Model is "owner/name" for official
// models; Version pins a specific model version instead.
type CreatePredictionRequest struct {
	Model        string
	Version      string
	Input        map[string]any
	Webhook      string
	EventsFilter []string
}

type createPayload struct {
	Version      string         `json:"version,omitempty"`
	Input        map[string]any `json:"input"`
	Webhook      string         `json:"webhook,omitempty"`
	EventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

// CreatePrediction submits a job and returns the provider's initial view of it.
func (c *Client) CreatePrediction(ctx context.Context, req CreatePredictionRequest) (*Prediction, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "replicate client not configured")
	}

	path, version, err := resolveTarget(req)
	if err != nil {
		return nil, err
	}

	input := req.Input
	if input == nil {
		input = map[string]any{}
	}
	payload := createPayload{Version: version, Input: input}
	if req.Webhook != "" {
		payload.Webhook = req.Webhook
		payload.EventsFilter = req.EventsFilter
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal prediction request")
	}

	var prediction Prediction
	if err := c.do(ctx, http.MethodPost, path, body, &prediction); err != nil {
		return nil, err
	}
	return &prediction, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "replicate client not configured")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "prediction id is required")
	}

	var prediction Prediction
	if err := c.do(ctx, http.MethodGet, "predictions/"+url.PathEscape(trimmed), nil, &prediction); err != nil {
		return nil, err
	}
	return &prediction, nil
}

// WebhookSigningSecret returns the account's default webhook signing secret.
func (c *Client) WebhookSigningSecret(ctx context.Context) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "replicate client not configured")
	}
	var resp struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodGet, defaultWebhookSecret, nil, &resp); err != nil {
		return "", err
	}
	if resp.Key == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "replicate returned an empty webhook secret")
	}
	return resp.Key, nil
}

func resolveTarget(req CreatePredictionRequest) (path, version string, err error) {
	version = strings.TrimSpace(req.Version)
	model := strings.TrimSpace(req.Model)

	if version == "" && strings.Contains(model, ":") {
		parts := strings.SplitN(model, ":", 2)
		version = parts[1]
	}
	if version != "" {
		return "predictions", version, nil
	}

	owner, name, ok := strings.Cut(model, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "model must be owner/name or a version id")
	}
	return fmt.Sprintf("models/%s/%s/predictions", url.PathEscape(owner), url.PathEscape(name)), "", nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build replicate request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute replicate request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		return pkgerrors.Wrap(codeForStatus(resp.StatusCode), apiErr, "replicate request failed")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode replicate response")
	}
	return nil
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), strings.TrimLeft(path, "/"))
}

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the failure is transient (throttling or server side).
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
