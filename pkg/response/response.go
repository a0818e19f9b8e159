// Package response writes the coordinator's JSON replies and threads a
// correlation ID from the incoming request through logs and responses, so
// an operator can match a saga run back to the submission that started it.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	commonerrors "github.com/narenallam/e-commerce-saga/pkg/errors"
)

// JSON writes a payload with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// Error writes a coded error reply. Errors that are not *commonerrors.Error
// are reported as INTERNAL without leaking their detail. The correlation ID
// from the request context is attached to the payload.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var ce *commonerrors.Error
	if !errors.As(err, &ce) {
		ce = commonerrors.New(commonerrors.CodeInternal, "internal server error")
	}

	payload := *ce
	if r != nil {
		if reqID := RequestIDFrom(r.Context()); reqID != "" {
			payload.RequestID = reqID
		}
	}
	JSON(w, payload.HTTPStatus(), &payload)
}

// ErrorCode writes an error reply from a code and message.
func ErrorCode(w http.ResponseWriter, r *http.Request, code commonerrors.Code, message string) {
	Error(w, r, commonerrors.NewWithDefault(code, message))
}
