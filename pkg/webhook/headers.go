package webhook

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"
	HeaderSignature = "webhook-signature"
)

var ErrMissingHeaders = errors.New("missing webhook headers")

// Headers carries the signed-delivery metadata of one request.
type Headers struct {
	ID        string
	Timestamp string
	Signature string
}

// ParseHeaders extracts the delivery headers, failing if any is absent.
func ParseHeaders(h http.Header) (Headers, error) {
	out := Headers{
		ID:        strings.TrimSpace(h.Get(HeaderID)),
		Timestamp: strings.TrimSpace(h.Get(HeaderTimestamp)),
		Signature: strings.TrimSpace(h.Get(HeaderSignature)),
	}
	var missing []string
	if out.ID == "" {
		missing = append(missing, HeaderID)
	}
	if out.Timestamp == "" {
		missing = append(missing, HeaderTimestamp)
	}
	if out.Signature == "" {
		missing = append(missing, HeaderSignature)
	}
	if len(missing) > 0 {
		return Headers{}, fmt.Errorf("%w: %s", ErrMissingHeaders, strings.Join(missing, ", "))
	}
	return out, nil
}
