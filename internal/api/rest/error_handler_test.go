package rest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeErrorTransformerRedactsCredentials(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"webhook secret", `post to buyer failed: secret="whs_live_abc123" rejected`},
		{"api key", `dial tcp: api_key="sk_test_xyz" invalid`},
		{"token", `auth failed: token='eyJhbGciOi' expired`},
		{"password", `conn string rejected: password="hunter2"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SanitizeErrorTransformer(errors.New(tc.in))
			assert.Contains(t, got.Error(), "[REDACTED]")
			assert.NotContains(t, got.Error(), "whs_live_abc123")
			assert.NotContains(t, got.Error(), "sk_test_xyz")
			assert.NotContains(t, got.Error(), "eyJhbGciOi")
			assert.NotContains(t, got.Error(), "hunter2")
		})
	}
}

func TestSanitizeErrorTransformerLeavesCleanErrorsAlone(t *testing.T) {
	err := errors.New("buyer webhook returned 503")
	got := SanitizeErrorTransformer(err)
	assert.Same(t, err, got)
}

func TestEnrichErrorTransformerAddsRequestID(t *testing.T) {
	ctx := context.WithValue(context.Background(), contextKeyRequestMeta, &RequestMeta{RequestID: "req-123"})
	transform := EnrichErrorTransformer(ctx)

	got := transform(errors.New("boom"))
	assert.Contains(t, got.Error(), "req-123")
	assert.Contains(t, got.Error(), "boom")
}

func TestEnrichErrorTransformerNoopWithoutRequestMeta(t *testing.T) {
	transform := EnrichErrorTransformer(context.Background())
	err := errors.New("boom")
	assert.Same(t, err, transform(err))
}

func TestErrorInterceptorPreservesErrorTypeWhenNothingToRedact(t *testing.T) {
	interceptor := NewErrorInterceptor(NewErrorHandler())
	interceptor.AddTransformer(SanitizeErrorTransformer)
	interceptor.AddTransformer(EnrichErrorTransformer(
		context.WithValue(context.Background(), contextKeyRequestMeta, &RequestMeta{RequestID: "req-456"}),
	))

	status, code, message, _ := interceptor.InterceptError(
		newValidationError("malformed webhook envelope", nil),
	)

	require.Equal(t, 400, status, "a ValidationError with nothing to redact must still classify as a validation error after enrichment")
	assert.Equal(t, "VALIDATION_ERROR", code)
	assert.Equal(t, "malformed webhook envelope", message)
}

func TestErrorInterceptorFallsBackToInternalErrorWhenRedactionErasesType(t *testing.T) {
	// When sanitization actually rewrites the message it returns a plain
	// error, so the handler's type-based dispatch (ValidationError,
	// AppError, ...) can no longer recognize it and falls back to a
	// generic internal error. Redacting the secret takes priority over
	// preserving the original status code.
	interceptor := NewErrorInterceptor(NewErrorHandler())
	interceptor.AddTransformer(SanitizeErrorTransformer)

	status, code, _, _ := interceptor.InterceptError(
		newValidationError(`invalid payload: secret="top-secret"`, nil),
	)

	assert.Equal(t, 500, status)
	assert.Equal(t, "INTERNAL_ERROR", code)
}
