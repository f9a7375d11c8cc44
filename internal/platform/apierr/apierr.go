package apierr

import (
	"fmt"
	"net/http"
)

const (
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeUnauthorized   = "unauthorized"
	CodeInternal       = "internal_error"
	CodeUnavailable    = "unavailable"
)

// Error is returned by handlers and services that want to pick the HTTP
// status and public code; Err never leaves the process.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func BadRequest(err error) *Error { return New(http.StatusBadRequest, CodeInvalidRequest, err) }
func NotFound(err error) *Error   { return New(http.StatusNotFound, CodeNotFound, err) }

const (
	CodeConflict  = "conflict"
	CodeForbidden = "forbidden"
)

func Conflict(err error) *Error     { return New(http.StatusConflict, CodeConflict, err) }
func Unauthorized(err error) *Error { return New(http.StatusUnauthorized, CodeUnauthorized, err) }
func Forbidden(err error) *Error    { return New(http.StatusForbidden, CodeForbidden, err) }
