package rest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These exercise SubmitLead's request-validation short-circuit, which runs
// entirely before any database access, so a handler with a nil pool is safe
// as long as the request never reaches the transaction.

func TestSubmitLeadRejectsMalformedJSON(t *testing.T) {
	h := &LeadHandler{errHandler: NewErrorHandler()}

	req := httptest.NewRequest(http.MethodPost, "/leads", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()

	h.SubmitLead(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestSubmitLeadRejectsMissingRequiredFields(t *testing.T) {
	h := &LeadHandler{errHandler: NewErrorHandler()}

	req := httptest.NewRequest(http.MethodPost, "/leads", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.SubmitLead(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "serviceTypeId")
	assert.Contains(t, body, "zipCode")
	assert.Contains(t, body, "timeframe")
}

func TestSubmitLeadRejectsNonUUIDServiceTypeID(t *testing.T) {
	h := &LeadHandler{errHandler: NewErrorHandler()}

	req := httptest.NewRequest(http.MethodPost, "/leads", strings.NewReader(`{
		"serviceTypeId": "not-a-uuid",
		"zipCode": "90210",
		"timeframe": "immediate"
	}`))
	rec := httptest.NewRecorder()

	h.SubmitLead(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "must be a UUID")
}

func TestGetLeadRejectsInvalidID(t *testing.T) {
	h := &LeadHandler{errHandler: NewErrorHandler()}

	req := httptest.NewRequest(http.MethodGet, "/leads/not-a-uuid", nil)
	rec := httptest.NewRecorder()

	h.GetLead(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
