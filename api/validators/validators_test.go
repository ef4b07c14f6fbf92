package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
)

type redeemBody struct {
	Code   string `json:"code" validate:"required,max=8"`
	Amount int64  `json:"amount" validate:"gt=0"`
}

func decode(t *testing.T, body string) (redeemBody, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dest redeemBody
	err := DecodeJSONBody(req, &dest)
	return dest, err
}

func TestDecodeJSONBodyAcceptsValidObject(t *testing.T) {
	dest, err := decode(t, `{"code":"SPRING","amount":5}`)
	require.NoError(t, err)
	assert.Equal(t, "SPRING", dest.Code)
	assert.Equal(t, int64(5), dest.Amount)
}

func TestDecodeJSONBodyRejections(t *testing.T) {
	for name, body := range map[string]string{
		"empty":          ``,
		"unknown field":  `{"code":"A","amount":1,"extra":true}`,
		"trailing value": `{"code":"A","amount":1}{"code":"B"}`,
		"too large":      `{"code":"` + strings.Repeat("x", MaxBodyBytes) + `"}`,
	} {
		_, err := decode(t, body)
		require.Error(t, err, name)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), name)
	}
}

func TestDecodeJSONBodyReportsFieldMessages(t *testing.T) {
	_, err := decode(t, `{"code":"TOOLONGCODE","amount":0}`)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be at most 8", details["code"])
	assert.Equal(t, "must be greater than 0", details["amount"])
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20&offset=abc&page=500", nil)

	v, err := ParseQueryInt(req, "limit", 50, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	v, err = ParseQueryInt(req, "missing", 50, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	_, err = ParseQueryInt(req, "offset", 0, 0, 100)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = ParseQueryInt(req, "page", 1, 1, 100)
	require.Error(t, err)
	assert.Equal(t, map[string]any{"field": "page", "min": 1, "max": 100}, pkgerrors.As(err).Details())
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "bonus credits", SanitizeString("  bonus\x00 credits\n ", 0))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))
	// "é" is two bytes; a cut inside it backs off to the previous rune.
	assert.Equal(t, "caf", SanitizeString("café", 4))
}
