package rest

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/leadworks/auction-broker/internal/infrastructure/cache"
)

// perIPRateLimiter throttles a single route using the shared Redis-backed
// sliding-window limiter, keyed by remote address.
type perIPRateLimiter struct {
	limiter cache.RateLimiter
	logger  *zap.Logger
	prefix  string
	limit   int
	window  time.Duration
}

func newPerIPRateLimiter(limiter cache.RateLimiter, logger *zap.Logger, prefix string, limit int, window time.Duration) *perIPRateLimiter {
	return &perIPRateLimiter{limiter: limiter, logger: logger, prefix: prefix, limit: limit, window: window}
}

func (rl *perIPRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.prefix + ":" + clientIP(r)

		allowed, err := rl.limiter.Allow(r.Context(), key, rl.limit, rl.window)
		if err != nil {
			rl.logger.Warn("rate limiter unavailable, failing open", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			remaining, _ := rl.limiter.Remaining(r.Context(), key, rl.limit, rl.window)
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error": map[string]interface{}{
					"code":      "RATE_LIMIT_EXCEEDED",
					"message":   "too many requests",
					"remaining": remaining,
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
