package replicate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient("r8_test", WithBaseURL("http://replicate.test/v1"), WithHTTPClient(&http.Client{Transport: rt}))
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient("  ")
	require.ErrorIs(t, err, errTokenRequired)
}

func TestCreatePredictionForOfficialModel(t *testing.T) {
	var captured *http.Request
	var payload map[string]any

	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &payload))
		return jsonResponse(http.StatusCreated, `{"id":"p_123","status":"starting","output":null,"error":null}`), nil
	})

	prediction, err := client.CreatePrediction(context.Background(), CreatePredictionRequest{
		Model:        "google/nano-banana-2",
		Input:        map[string]any{"prompt": "a red fox"},
		Webhook:      "https://palette.test/api/v1/webhooks/replicate",
		EventsFilter: []string{EventCompleted},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, captured.Method)
	assert.Equal(t, "http://replicate.test/v1/models/google/nano-banana-2/predictions", captured.URL.String())
	assert.Equal(t, "Bearer r8_test", captured.Header.Get("Authorization"))
	assert.Equal(t, "https://palette.test/api/v1/webhooks/replicate", payload["webhook"])
	assert.Equal(t, []any{"completed"}, payload["webhook_events_filter"])
	assert.NotContains(t, payload, "version")

	assert.Equal(t, "p_123", prediction.ID)
	assert.Empty(t, prediction.FirstOutput())
}

func TestCreatePredictionForPinnedVersion(t *testing.T) {
	var url string
	var payload map[string]any
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		url = req.URL.String()
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &payload)
		return jsonResponse(http.StatusCreated, `{"id":"p_9","status":"starting"}`), nil
	})

	_, err := client.CreatePrediction(context.Background(), CreatePredictionRequest{Model: "stability-ai/sdxl:39ed52f2"})
	require.NoError(t, err)
	assert.Equal(t, "http://replicate.test/v1/predictions", url)
	assert.Equal(t, "39ed52f2", payload["version"])
	assert.NotContains(t, payload, "webhook")
}

func TestCreatePredictionRejectsBadModel(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	_, err := client.CreatePrediction(context.Background(), CreatePredictionRequest{Model: "just-a-name"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestGetPredictionDecodesOutputShapes(t *testing.T) {
	bodies := map[string]string{
		"array":  `{"id":"p1","status":"succeeded","output":["https://replicate.delivery/a.png","https://replicate.delivery/b.png"]}`,
		"string": `{"id":"p1","status":"succeeded","output":"https://replicate.delivery/a.png"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
				assert.Equal(t, "http://replicate.test/v1/predictions/p1", req.URL.String())
				return jsonResponse(http.StatusOK, body), nil
			})
			prediction, err := client.GetPrediction(context.Background(), "p1")
			require.NoError(t, err)
			assert.Equal(t, "https://replicate.delivery/a.png", prediction.FirstOutput())
		})
	}
}

func TestGetPredictionFailureFields(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"id":"p1","status":"failed","output":{"text":"x"},"error":{"detail":"nsfw"}}`), nil
	})
	prediction, err := client.GetPrediction(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, prediction.Output)
	assert.Equal(t, `{"detail":"nsfw"}`, prediction.Error.String())
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		code   pkgerrors.Code
		retry  bool
	}{
		{http.StatusNotFound, pkgerrors.CodeNotFound, false},
		{http.StatusUnprocessableEntity, pkgerrors.CodeValidation, false},
		{http.StatusTooManyRequests, pkgerrors.CodeDependency, true},
		{http.StatusBadGateway, pkgerrors.CodeDependency, true},
	}
	for _, tc := range cases {
		client := newTestClient(t, func(*http.Request) (*http.Response, error) {
			return jsonResponse(tc.status, `{"detail":"nope"}`), nil
		})
		_, err := client.GetPrediction(context.Background(), "p1")
		require.Error(t, err)
		assert.Equal(t, tc.code, pkgerrors.CodeOf(err), "status %d", tc.status)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, tc.retry, apiErr.Retryable())
	}
}

func TestWebhookSigningSecret(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "http://replicate.test/v1/webhooks/default/secret", req.URL.String())
		return jsonResponse(http.StatusOK, `{"key":"whsec_abc"}`), nil
	})
	secret, err := client.WebhookSigningSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "whsec_abc", secret)

	empty := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{}`), nil
	})
	_, err = empty.WebhookSigningSecret(context.Background())
	assert.Error(t, err)
}
