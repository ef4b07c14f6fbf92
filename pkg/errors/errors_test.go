package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest},
		{code: CodeUnauthorized, status: http.StatusUnauthorized},
		{code: CodeSignatureInvalid, status: http.StatusUnauthorized},
		{code: CodeForbidden, status: http.StatusForbidden},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeConflict, status: http.StatusConflict},
		{code: CodeInsufficientCredits, status: http.StatusPaymentRequired},
		{code: CodeRateLimit, status: http.StatusTooManyRequests},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true},
		{code: CodeProcessing, status: http.StatusInternalServerError, retryable: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		assert.Equal(t, tt.status, meta.HTTPStatus, "status for %s", tt.code)
		assert.Equal(t, tt.retryable, meta.Retryable, "retryable for %s", tt.code)
		assert.NotEmpty(t, meta.PublicMessage, "public message for %s", tt.code)
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, MetadataFor("SOMETHING_UNKNOWN").HTTPStatus)
}

func TestWrapPreservesCauseAndCode(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeDependency, cause, "fetch signing secret")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeDependency, CodeOf(err))
	assert.True(t, IsRetryable(err))

	wrapped := fmt.Errorf("outer: %w", err)
	require.NotNil(t, As(wrapped))
	assert.Equal(t, "fetch signing secret", As(wrapped).Message())
}

func TestIsCodeWalksNestedTypedErrors(t *testing.T) {
	inner := New(CodeInsufficientCredits, "insufficient credits")
	outer := Wrap(CodeProcessing, inner, "submit generation")

	assert.True(t, IsCode(outer, CodeInsufficientCredits))
	assert.True(t, IsCode(outer, CodeProcessing))
	assert.False(t, IsCode(outer, CodeNotFound))
	assert.False(t, IsCode(stdErrors.New("plain"), CodeInternal))
}

func TestCodeOfUntypedIsInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(stdErrors.New("boom")))
	assert.False(t, IsRetryable(nil))
}

func TestDumpExtractsPostgresDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "gallery_prediction_id_key", TableName: "gallery"}
	err := Wrap(CodeConflict, pgErr, "insert gallery entry")

	dump := Dump(err)
	assert.Equal(t, CodeConflict, dump.Code)
	require.NotNil(t, dump.PG)
	assert.Equal(t, "23505", dump.PG.Code)
	assert.Equal(t, "gallery_prediction_id_key", dump.PG.Constraint)
	assert.Len(t, dump.Chain, 2)

	fields := dump.Fields()
	assert.Equal(t, "23505", fields["pg_code"])
	assert.Equal(t, CodeConflict, fields["error_code"])
}

func TestDumpOmitsPostgresFieldsForPlainErrors(t *testing.T) {
	dump := Dump(stdErrors.New("boom"))
	assert.Nil(t, dump.PG)
	fields := dump.Fields()
	assert.NotContains(t, fields, "pg_code")
	assert.NotContains(t, fields, "error_code")
}
