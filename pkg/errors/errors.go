// Package errors 定义统一错误码
package errors

import (
	"fmt"
	"net/http"
)

// Code 错误码
type Code string

// 错误码定义
const (
	// 通用错误
	CodeOK             Code = "OK"
	CodeUnknown        Code = "UNKNOWN"
	CodeInvalidParam   Code = "INVALID_PARAM"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeNotFound       Code = "NOT_FOUND"
	CodeAlreadyExists  Code = "ALREADY_EXISTS"
	CodeInternal       Code = "INTERNAL"
	CodeUnavailable    Code = "UNAVAILABLE"
	CodeTimeout        Code = "TIMEOUT"

	// 限流
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeTooManyRequests Code = "TOO_MANY_REQUESTS"

	// Saga 编排
	CodeSagaNotFound       Code = "SAGA_NOT_FOUND"
	CodeSagaNotRunning     Code = "SAGA_NOT_RUNNING"
	CodeSagaAlreadyExists  Code = "SAGA_ALREADY_EXISTS"
	CodeStepFailed         Code = "STEP_FAILED"
	CodeCompensationFailed Code = "COMPENSATION_FAILED"
	CodeBusinessRefusal    Code = "BUSINESS_REFUSAL"

	// 参与方通信
	CodeUnknownParticipant  Code = "UNKNOWN_PARTICIPANT"
	CodeParticipantDown     Code = "PARTICIPANT_DOWN"
	CodeParticipantTimeout  Code = "PARTICIPANT_TIMEOUT"
	CodeParticipantBadReply Code = "PARTICIPANT_BAD_REPLY"
	CodeRetriesExhausted    Code = "RETRIES_EXHAUSTED"

	// 系统
	CodeSystemBusy Code = "SYSTEM_BUSY"
)

// Error 业务错误
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New 创建错误
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Newf 创建格式化错误
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// NewWithDefault creates an error, substituting a generic message when empty.
func NewWithDefault(code Code, message string) *Error {
	if message == "" {
		message = "request failed"
	}
	return New(code, message)
}

// WithRequestID 添加请求 ID
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// HTTPStatus 返回对应的 HTTP 状态码
func (e *Error) HTTPStatus() int {
	return httpStatus(e.Code)
}

// isRetryable 判断是否可重试
func isRetryable(code Code) bool {
	switch code {
	case CodeRateLimited, CodeTooManyRequests, CodeSystemBusy,
		CodeTimeout, CodeUnavailable, CodeParticipantDown,
		CodeParticipantTimeout:
		return true
	default:
		return false
	}
}

// httpStatus 错误码对应的 HTTP 状态码
func httpStatus(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound, CodeSagaNotFound, CodeUnknownParticipant:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeSagaAlreadyExists, CodeSagaNotRunning:
		return http.StatusConflict
	case CodeRateLimited, CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeInternal, CodeUnknown, CodeStepFailed, CodeCompensationFailed:
		return http.StatusInternalServerError
	case CodeUnavailable, CodeSystemBusy, CodeParticipantDown:
		return http.StatusServiceUnavailable
	case CodeTimeout, CodeParticipantTimeout, CodeRetriesExhausted:
		return http.StatusGatewayTimeout
	case CodeBusinessRefusal, CodeParticipantBadReply:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam   = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound       = New(CodeNotFound, "not found")
	ErrSagaNotFound   = New(CodeSagaNotFound, "saga not found")
	ErrSagaNotRunning = New(CodeSagaNotRunning, "saga is not running")
	ErrRateLimited    = New(CodeRateLimited, "rate limited")
	ErrSystemBusy     = New(CodeSystemBusy, "system busy, please retry")
)
