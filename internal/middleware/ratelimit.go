// Package middleware holds HTTP middleware for the coordinator API.
package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	commonerrors "github.com/narenallam/e-commerce-saga/pkg/errors"
	"github.com/narenallam/e-commerce-saga/pkg/response"
)

// RateLimiter bounds the rate of saga submissions with a token bucket.
// The engine itself applies no rate limiting; this guards the edge.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows r submissions per second with the given burst.
func NewRateLimiter(r float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(r), burst)}
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter.Allow() {
			response.ErrorCode(w, r, commonerrors.CodeRateLimited, "too many order submissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}
