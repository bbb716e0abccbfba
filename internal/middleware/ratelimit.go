package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ieraasyl/FitnessShell/pkg/utils"
	"github.com/rs/zerolog/log"
)

// RateLimitStore keeps per-client counters. database.RedisDB implements it.
type RateLimitStore interface {
	IncrementRateLimit(ctx context.Context, ip, endpoint string, window time.Duration) (int64, error)
}

// RateLimiter limits credential submissions per client IP within a fixed
// window. Counters live in Redis under "ratelimit:{ip}:{endpoint}".
type RateLimiter struct {
	store          RateLimitStore
	requestsPerMin int
	window         time.Duration
}

// NewRateLimiter creates a limiter allowing requestsPerMin requests per window.
//
// Example:
//
//	limiter := middleware.NewRateLimiter(redisDB, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.WindowDuration)
//	r.With(limiter.Limit("sign_in")).Post("/auth/sign-in", h.SignIn)
func NewRateLimiter(store RateLimitStore, requestsPerMin int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		store:          store,
		requestsPerMin: requestsPerMin,
		window:         window,
	}
}

// Limit returns middleware counting requests under endpoint. Over the limit
// it answers 429 with Retry-After. If the counter store is unavailable the
// request is let through.
func (rl *RateLimiter) Limit(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ExtractClientIP(r)

			count, err := rl.store.IncrementRateLimit(r.Context(), ip, endpoint, rl.window)
			if err != nil {
				log.Error().Err(err).Str("ip", ip).Str("endpoint", endpoint).Msg("Failed to check rate limit")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))

			if count > int64(rl.requestsPerMin) {
				log.Warn().
					Str("ip", ip).
					Str("endpoint", endpoint).
					Int64("count", count).
					Msg("Rate limit exceeded")
				rateLimitedTotal.WithLabelValues(endpoint).Inc()

				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				utils.RespondWithErrorKind(w, r, http.StatusTooManyRequests, "rate_limited", "Too many attempts, try again later")
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.requestsPerMin-int(count)))
			next.ServeHTTP(w, r)
		})
	}
}
