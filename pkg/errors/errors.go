// Package errors defines the application error type shared across service boundaries.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// general (1xxx)
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"

	// pipeline (4xxx)
	CodeExtractionFailed ErrorCode = "4001"
	CodeChunkingFailed   ErrorCode = "4002"
	CodeRetrievalFailed  ErrorCode = "4003"
	CodeGenerationFailed ErrorCode = "4004"
	CodeLLMCallFailed    ErrorCode = "4005"
	CodeEmbeddingFailed  ErrorCode = "4006"

	// backing services (5xxx)
	CodeDatabaseError     ErrorCode = "5001"
	CodeCacheError        ErrorCode = "5002"
	CodeVectorUnavailable ErrorCode = "5003"
	CodeStorageError      ErrorCode = "5004"
)

// AppError carries a code, a human readable message and the underlying cause.
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail returns a copy of e with Detail set.
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// New creates an AppError without a cause.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap creates an AppError around err.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable, CodeVectorUnavailable:
		return http.StatusServiceUnavailable
	case CodeEmbeddingFailed, CodeLLMCallFailed, CodeStorageError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrInvalidParam = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound     = New(CodeNotFound, "resource not found")
	ErrInternal     = New(CodeInternalError, "internal server error")
)

// IsAppError reports whether err, or anything it wraps, is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError returns the first AppError in err's chain, or wraps err as unknown.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}

// CodeOf returns the code of the first AppError in err's chain, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}
