package buyerclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadworks/auction-broker/internal/domain/buyer"
)

func testBuyer(url string) buyer.Buyer {
	return buyer.Buyer{
		Name:          "acme-roofing",
		APIURL:        url,
		Auth:          buyer.AuthConfig{Kind: buyer.AuthBearer, Token: "secret"},
		PingTimeoutMs: 2000,
		PostTimeoutMs: 2000,
	}
}

func TestPing_Accepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"accepted":true,"bidAmount":150.00}`)
	}))
	defer srv.Close()

	c := New(zap.NewNop(), nil)
	result := c.Ping(context.Background(), testBuyer(srv.URL), []byte(`{}`), 2000)

	require.Equal(t, StatusSuccess, result.Status)
	assert.True(t, result.Accepted)
	require.NotNil(t, result.BidAmount)
	assert.Equal(t, "150.00", result.BidAmount.String())
}

func TestPing_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(w, `{"accepted":true}`)
	}))
	defer srv.Close()

	c := New(zap.NewNop(), nil)
	result := c.Ping(context.Background(), testBuyer(srv.URL), []byte(`{}`), 10)

	assert.Equal(t, StatusTimeout, result.Status)
}

func TestPing_NeverRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(zap.NewNop(), nil)
	result := c.Ping(context.Background(), testBuyer(srv.URL), []byte(`{}`), 2000)

	assert.Equal(t, StatusFailed, result.Status)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPost_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"accepted":true,"externalLeadId":"ext-1"}`)
	}))
	defer srv.Close()

	c := New(zap.NewNop(), []time.Duration{time.Millisecond, time.Millisecond})
	result := c.Post(context.Background(), testBuyer(srv.URL), []byte(`{}`), 2000, 3)

	require.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "ext-1", result.ExternalLeadID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestPost_NoRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(zap.NewNop(), []time.Duration{time.Millisecond})
	result := c.Post(context.Background(), testBuyer(srv.URL), []byte(`{}`), 2000, 3)

	assert.Equal(t, StatusFailed, result.Status)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPost_AllAttemptsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(zap.NewNop(), []time.Duration{time.Millisecond, time.Millisecond})
	result := c.Post(context.Background(), testBuyer(srv.URL), []byte(`{}`), 2000, 3)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 3, result.Attempts)
}

func TestApplyAuth_Basic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "u", user)
		assert.Equal(t, "p", pass)
		fmt.Fprint(w, `{"accepted":true}`)
	}))
	defer srv.Close()

	b := testBuyer(srv.URL)
	b.Auth = buyer.AuthConfig{Kind: buyer.AuthBasic, Username: "u", Password: "p"}

	c := New(zap.NewNop(), nil)
	result := c.Ping(context.Background(), b, []byte(`{}`), 2000)
	require.Equal(t, StatusSuccess, result.Status)
}

func TestApplyAuth_CustomHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v1", r.Header.Get("X-Api-Key"))
		fmt.Fprint(w, `{"accepted":true}`)
	}))
	defer srv.Close()

	b := testBuyer(srv.URL)
	b.Auth = buyer.AuthConfig{Kind: buyer.AuthCustom, Headers: map[string]string{"X-Api-Key": "v1"}}

	c := New(zap.NewNop(), nil)
	result := c.Ping(context.Background(), b, []byte(`{}`), 2000)
	require.Equal(t, StatusSuccess, result.Status)
}
