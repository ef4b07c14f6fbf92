// Package webhook verifies provider callbacks signed with the webhook-id /
// webhook-timestamp / webhook-signature header scheme.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTolerance = 5 * time.Minute
	secretPrefix     = "whsec_"
	versionPrefix    = "v1,"
)

// Verifier checks signatures and delivery freshness.
type Verifier struct {
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a verifier; a non-positive tolerance falls back to DefaultTolerance.
func NewVerifier(tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{tolerance: tolerance, now: time.Now}
}

// TimestampValid reports whether ts (unix seconds) is within tolerance of now, in
// either direction. Unparseable values are invalid.
func (v *Verifier) TimestampValid(ts string) bool {
	seconds, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return false
	}
	skew := v.now().Sub(time.Unix(seconds, 0))
	if skew < 0 {
		skew = -skew
	}
	return skew <= v.tolerance
}

// VerifySignature reports whether any signature in header matches the HMAC-SHA256
// of "{id}.{timestamp}.{body}" under secret.
func (v *Verifier) VerifySignature(id, ts string, body []byte, header, secret string) bool {
	if id == "" || ts == "" || header == "" || secret == "" {
		return false
	}
	expected := Sign(id, ts, body, secret)
	for _, candidate := range strings.Fields(header) {
		candidate = strings.TrimPrefix(candidate, versionPrefix)
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return true
		}
	}
	return false
}

// Sign computes the base64 signature for a delivery.
func Sign(id, ts string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, secretKey(secret))
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func secretKey(secret string) []byte {
	if raw, ok := strings.CutPrefix(secret, secretPrefix); ok {
		if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
			return decoded
		}
	}
	return []byte(secret)
}
