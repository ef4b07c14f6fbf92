package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/palette-backend/internal/predictions"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/angelmondragon/palette-backend/pkg/webhook"
)

const testSecret = "whsec_c2VjcmV0LWtleS1ieXRlcw=="

type stubReconciler struct {
	mu     sync.Mutex
	events []predictions.Event
	err    error
}

func (s *stubReconciler) ProcessCompletedPrediction(_ context.Context, ev predictions.Event) (*predictions.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if s.err != nil {
		return nil, s.err
	}
	return &predictions.Result{PredictionID: ev.ID}, nil
}

func (s *stubReconciler) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type memoryGuard struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{claimed: map[string]bool{}}
}

func (g *memoryGuard) Claim(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claimed[id] {
		return false, nil
	}
	g.claimed[id] = true
	return true, nil
}

func (g *memoryGuard) Release(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, id)
	g.released = append(g.released, id)
	return nil
}

// rotatingSecrets returns secrets[i] on the i-th fetch after each Invalidate.
type rotatingSecrets struct {
	secrets []string
	fetches int
	err     error
	cached  string
}

func (r *rotatingSecrets) Secret(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if r.cached == "" {
		idx := r.fetches
		if idx >= len(r.secrets) {
			idx = len(r.secrets) - 1
		}
		r.cached = r.secrets[idx]
		r.fetches++
	}
	return r.cached, nil
}

func (r *rotatingSecrets) Invalidate() bool {
	r.cached = ""
	return true
}

const succeededBody = `{"id":"pred_1","status":"succeeded","output":["https://replicate.delivery/out.png"],"error":null}`

func signedRequest(t *testing.T, id string, body []byte, secret string, at time.Time) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(at.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/replicate", bytes.NewReader(body))
	req.Header.Set(webhook.HeaderID, id)
	req.Header.Set(webhook.HeaderTimestamp, ts)
	req.Header.Set(webhook.HeaderSignature, "v1,"+webhook.Sign(id, ts, body, secret))
	return req
}

func newParams(rec *stubReconciler, secrets signingSecrets, guard deliveryGuard) ReplicateParams {
	return ReplicateParams{
		Reconciler: rec,
		Secrets:    secrets,
		Verifier:   webhook.NewVerifier(5 * time.Minute),
		Guard:      guard,
		Timeout:    time.Second,
	}
}

func TestReplicateWebhookAcceptsSignedDelivery(t *testing.T) {
	rec := &stubReconciler{}
	handler := ReplicateWebhook(newParams(rec, &rotatingSecrets{secrets: []string{testSecret}}, newMemoryGuard()))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, "msg_1", []byte(succeededBody), testSecret, time.Now()))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var ack struct {
		Received bool `json:"received"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &ack); err != nil || !ack.Received {
		t.Fatalf("expected {received:true}, got %s", resp.Body.String())
	}
	if rec.calls() != 1 || rec.events[0].ID != "pred_1" {
		t.Fatalf("expected one reconciled event, got %+v", rec.events)
	}
}

func TestReplicateWebhookRejectsBadSignature(t *testing.T) {
	rec := &stubReconciler{}
	secrets := &rotatingSecrets{secrets: []string{testSecret}}
	handler := ReplicateWebhook(newParams(rec, secrets, newMemoryGuard()))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, "msg_1", []byte(succeededBody), "whsec_d3Jvbmcta2V5", time.Now()))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if rec.calls() != 0 {
		t.Fatal("reconciler must not run for a rejected delivery")
	}
	if secrets.fetches != 2 {
		t.Fatalf("expected one refetch after mismatch, fetches=%d", secrets.fetches)
	}
}

func TestReplicateWebhookForgedTrafficDoesNotHammerProvider(t *testing.T) {
	var mu sync.Mutex
	fetches := 0
	cache, err := webhook.NewSecretCache(webhook.SecretFetcherFunc(func(context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		fetches++
		return testSecret, nil
	}), time.Hour)
	if err != nil {
		t.Fatalf("secret cache: %v", err)
	}
	rec := &stubReconciler{}
	handler := ReplicateWebhook(newParams(rec, cache, newMemoryGuard()))

	for i := 0; i < 50; i++ {
		resp := httptest.NewRecorder()
		id := "msg_forged_" + strconv.Itoa(i)
		handler.ServeHTTP(resp, signedRequest(t, id, []byte(succeededBody), "whsec_d3Jvbmcta2V5", time.Now()))
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("request %d: expected 401 got %d", i, resp.Code)
		}
	}

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, "msg_genuine", []byte(succeededBody), testSecret, time.Now()))
	if resp.Code != http.StatusOK {
		t.Fatalf("genuine delivery after forged burst: expected 200 got %d", resp.Code)
	}

	mu.Lock()
	defer mu.Unlock()
	if fetches > 2 {
		t.Fatalf("expected at most one refetch for 50 forged requests, fetches=%d", fetches)
	}
	if rec.calls() != 1 {
		t.Fatalf("expected only the genuine delivery reconciled, got %d", rec.calls())
	}
}

func TestReplicateWebhookAcceptsRotatedSecret(t *testing.T) {
	const rotated = "whsec_bmV3LXNlY3JldA=="
	rec := &stubReconciler{}
	secrets := &rotatingSecrets{secrets: []string{testSecret, rotated}}
	handler := ReplicateWebhook(newParams(rec, secrets, nil))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, "msg_2", []byte(succeededBody), rotated, time.Now()))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 after rotation got %d", resp.Code)
	}
}

func TestReplicateWebhookRejectsMalformedRequests(t *testing.T) {
	secrets := &rotatingSecrets{secrets: []string{testSecret}}

	cases := []struct {
		name string
		req  func() *http.Request
		want int
	}{
		{
			name: "missing headers",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/replicate", bytes.NewReader([]byte(succeededBody)))
			},
			want: http.StatusBadRequest,
		},
		{
			name: "stale timestamp",
			req: func() *http.Request {
				return signedRequest(t, "msg_3", []byte(succeededBody), testSecret, time.Now().Add(-10*time.Minute))
			},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown status",
			req: func() *http.Request {
				return signedRequest(t, "msg_4", []byte(`{"id":"pred_1","status":"exploded"}`), testSecret, time.Now())
			},
			want: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		rec := &stubReconciler{}
		resp := httptest.NewRecorder()
		ReplicateWebhook(newParams(rec, secrets, nil)).ServeHTTP(resp, tc.req())
		if resp.Code != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, resp.Code)
		}
		if rec.calls() != 0 {
			t.Fatalf("%s: reconciler should not run", tc.name)
		}
	}
}

func TestReplicateWebhookSecretFetchFailure(t *testing.T) {
	rec := &stubReconciler{}
	handler := ReplicateWebhook(newParams(rec, &rotatingSecrets{err: errors.New("provider down")}, nil))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, "msg_5", []byte(succeededBody), testSecret, time.Now()))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
}

func TestReplicateWebhookDuplicateDeliveryShortCircuits(t *testing.T) {
	rec := &stubReconciler{}
	guard := newMemoryGuard()
	handler := ReplicateWebhook(newParams(rec, &rotatingSecrets{secrets: []string{testSecret}}, guard))

	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, signedRequest(t, "msg_6", []byte(succeededBody), testSecret, time.Now()))
		if resp.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200 got %d", i, resp.Code)
		}
	}
	if rec.calls() != 1 {
		t.Fatalf("expected one reconcile for duplicate delivery id, got %d", rec.calls())
	}
}

func TestReplicateWebhookProcessingFailureReleasesClaim(t *testing.T) {
	rec := &stubReconciler{err: pkgerrors.New(pkgerrors.CodeProcessing, "upload failed")}
	guard := newMemoryGuard()
	handler := ReplicateWebhook(newParams(rec, &rotatingSecrets{secrets: []string{testSecret}}, guard))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, signedRequest(t, "msg_7", []byte(succeededBody), testSecret, time.Now()))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	if len(guard.released) != 1 || guard.released[0] != "msg_7" {
		t.Fatalf("expected claim released, got %v", guard.released)
	}

	rec.err = nil
	retry := httptest.NewRecorder()
	handler.ServeHTTP(retry, signedRequest(t, "msg_7", []byte(succeededBody), testSecret, time.Now()))
	if retry.Code != http.StatusOK || rec.calls() != 2 {
		t.Fatalf("expected redelivery to reprocess, code=%d calls=%d", retry.Code, rec.calls())
	}
}
