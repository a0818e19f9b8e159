package response

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/narenallam/e-commerce-saga/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFrom reads the correlation ID stored by Correlate.
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// Correlate assigns every request a correlation ID: the caller's
// X-Request-ID when present, a fresh UUID otherwise. The ID rides the
// request context, the response header, and the logger's trace field, so
// log lines written through logger.WithContext on the request context
// carry it. Saga runs use the coordinator's own context, and the engine's
// log lines do not carry the ID.
func Correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		ctx = logger.ContextWithTraceID(ctx, reqID)

		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
