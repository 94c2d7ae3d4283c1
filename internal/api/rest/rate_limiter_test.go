package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRateLimiter struct {
	allow     bool
	allowErr  error
	remaining int
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return f.allow, f.allowErr
}
func (f *fakeRateLimiter) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	return 0, nil
}
func (f *fakeRateLimiter) Reset(ctx context.Context, key string) error { return nil }
func (f *fakeRateLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	return f.remaining, nil
}

func TestPerIPRateLimiterAllows(t *testing.T) {
	rl := newPerIPRateLimiter(&fakeRateLimiter{allow: true}, zap.NewNop(), "leads:submit", 60, time.Minute)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/leads", nil)
	rec := httptest.NewRecorder()
	rl.middleware(next).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPerIPRateLimiterBlocks(t *testing.T) {
	rl := newPerIPRateLimiter(&fakeRateLimiter{allow: false, remaining: 0}, zap.NewNop(), "leads:submit", 60, time.Minute)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodPost, "/leads", nil)
	rec := httptest.NewRecorder()
	rl.middleware(next).ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestPerIPRateLimiterFailsOpen(t *testing.T) {
	rl := newPerIPRateLimiter(&fakeRateLimiter{allowErr: assertError{}}, zap.NewNop(), "leads:submit", 60, time.Minute)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/leads", nil)
	rec := httptest.NewRecorder()
	rl.middleware(next).ServeHTTP(rec, req)

	require.True(t, called, "limiter backend errors must fail open, not block the request")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4321"
	assert.Equal(t, "10.0.0.1:4321", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}

type assertError struct{}

func (assertError) Error() string { return "rate limiter backend unavailable" }
