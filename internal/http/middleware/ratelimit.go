package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/princekumarofficial/channel-media-service/internal/ratelimit"
	"github.com/princekumarofficial/channel-media-service/internal/utils/response"
)

// Rate limited admin actions.
const (
	ActionApprove = "approve"
	ActionPull    = "pull"
)

type RateLimitConfig struct {
	limiters map[string]*ratelimit.TokenBucket
}

func NewRateLimitConfig(redisClient *redis.Client) *RateLimitConfig {
	config := &RateLimitConfig{
		limiters: make(map[string]*ratelimit.TokenBucket),
	}

	// approvals download and upload whole files: 30/min per caller
	config.limiters[ActionApprove] = ratelimit.NewTokenBucket(redisClient, 30, 30)

	// manual pulls walk every channel's history: 5/min per caller
	config.limiters[ActionPull] = ratelimit.NewTokenBucket(redisClient, 5, 5)

	return config
}

func (rlc *RateLimitConfig) RateLimitMiddleware(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFromContext(r.Context())
			if !ok {
				response.WriteJSON(w, http.StatusUnauthorized, response.GeneralError(
					errors.New("caller not authenticated")))
				return
			}

			limiter, exists := rlc.limiters[action]
			if !exists {
				next.ServeHTTP(w, r)
				return
			}

			d, err := limiter.Take(r.Context(), caller.ID(), action)
			if err != nil {
				// Redis trouble must not lock admins out.
				slog.Warn("Rate limit check failed, allowing request",
					slog.String("action", action), slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(d.ResetIn.Seconds())))

			if !d.Allowed {
				response.WriteJSON(w, http.StatusTooManyRequests, response.GeneralError(
					errors.New("rate limit exceeded")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitedHandler wraps a handler with rate limiting for a specific action
func (rlc *RateLimitConfig) RateLimitedHandler(action string, handler http.HandlerFunc) http.Handler {
	return rlc.RateLimitMiddleware(action)(handler)
}
