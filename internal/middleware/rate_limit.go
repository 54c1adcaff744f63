package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/chatforge/realtime/internal/contextkey"
	"github.com/chatforge/realtime/internal/logging"
	"github.com/chatforge/realtime/internal/store/rediskv"
)

// RateLimiter implements a per-user token bucket backed by Redis, so
// the bucket state is shared across every edge process in the
// cluster rather than held in process memory.
type RateLimiter struct {
	redis *rediskv.Client
	log   *logging.Logger

	capacity int64
	rate     float64 // tokens added per second
}

// NewRateLimiter builds a RateLimiter with the given bucket capacity
// and refill rate (tokens/second).
func NewRateLimiter(redis *rediskv.Client, log *logging.Logger, capacity int64, rate float64) *RateLimiter {
	return &RateLimiter{redis: redis, log: log, capacity: capacity, rate: rate}
}

// Middleware applies rate limiting keyed by the authenticated user id
// found in the request context (set by AuthMiddleware upstream).
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		userID, ok := req.Context().Value(contextkey.ContextKeyUserID).(uuid.UUID)
		if !ok || userID == uuid.Nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if !rl.allow(req.Context(), userID.String()) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, req)
	})
}

// allow checks and consumes one token for key, refilling the bucket
// proportionally to the time elapsed since the last refill.
func (rl *RateLimiter) allow(ctx context.Context, key string) bool {
	redisKey := "rate_limit:" + key

	val, err := rl.redis.Raw().HMGet(ctx, redisKey, "tokens", "last_refill").Result()
	if err != nil {
		rl.log.Warn(ctx, "rate limiter redis read failed, allowing request: %v", err)
		return true
	}

	currentTokens := float64(rl.capacity)
	lastRefillTime := time.Now()

	if val[0] != nil && val[1] != nil {
		if t, err := strconv.ParseFloat(val[0].(string), 64); err == nil {
			currentTokens = t
		}
		if t, err := time.Parse(time.RFC3339Nano, val[1].(string)); err == nil {
			lastRefillTime = t
		}
	}

	now := time.Now()
	currentTokens = math.Min(float64(rl.capacity), currentTokens+now.Sub(lastRefillTime).Seconds()*rl.rate)

	if currentTokens < 1 {
		return false
	}
	currentTokens--

	if err := rl.redis.Raw().HMSet(ctx, redisKey, "tokens", currentTokens, "last_refill", now.Format(time.RFC3339Nano)).Err(); err != nil {
		rl.log.Warn(ctx, "rate limiter redis write failed, allowing request: %v", err)
	}
	return true
}
