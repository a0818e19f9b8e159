package response

import (
	"net/http"
	"runtime/debug"

	commonerrors "github.com/narenallam/e-commerce-saga/pkg/errors"
	"github.com/narenallam/e-commerce-saga/pkg/logger"
)

// Recovery turns a handler panic into a 500 reply instead of tearing down
// the coordinator and every saga in flight. The panic is logged with the
// request's correlation ID.
func Recovery(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		replied := &trackingWriter{ResponseWriter: w}
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			log.Errorf("panic recovered", map[string]interface{}{
				"panic":     v,
				"requestID": RequestIDFrom(r.Context()),
				"stack":     string(debug.Stack()),
			})
			if !replied.wrote {
				ErrorCode(replied, r, commonerrors.CodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(replied, r)
	})
}

type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *trackingWriter) WriteHeader(code int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}
