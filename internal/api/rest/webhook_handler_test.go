package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leadworks/auction-broker/internal/infrastructure/repository"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"leadId":"abc"}`)
	secret := "shared-secret"
	valid := signBody(secret, body)

	assert.True(t, verifySignature(body, secret, valid))
	assert.False(t, verifySignature(body, secret, "deadbeef"))
	assert.False(t, verifySignature(body, "", valid))
	assert.False(t, verifySignature(body, secret, ""))
	assert.False(t, verifySignature([]byte(`{"leadId":"tampered"}`), secret, valid))
}

func TestHashEnvelopeIsStableAndContentAddressed(t *testing.T) {
	a := hashEnvelope([]byte(`{"a":1}`))
	b := hashEnvelope([]byte(`{"a":1}`))
	c := hashEnvelope([]byte(`{"a":2}`))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, sha256.Size*2)
}

func TestIsNotFound(t *testing.T) {
	notFound := &repository.Error{Category: repository.CategoryNotFound, Cause: fmt.Errorf("missing row")}
	conflict := &repository.Error{Category: repository.CategoryConflict, Cause: fmt.Errorf("dup")}

	assert.True(t, isNotFound(notFound))
	assert.False(t, isNotFound(conflict))
	assert.False(t, isNotFound(fmt.Errorf("plain error")))
}

func TestReceiveRejectsUnreadableBody(t *testing.T) {
	h := &WebhookHandler{errHandler: NewErrorHandler()}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/buyers/acme", &erroringBody{})
	rec := httptest.NewRecorder()

	h.Receive(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type erroringBody struct{}

func (erroringBody) Read([]byte) (int, error) { return 0, fmt.Errorf("read failed") }
func (erroringBody) Close() error             { return nil }
