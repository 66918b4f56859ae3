// Package apierr implements the error taxonomy from the failure-handling
// design: every subsystem boundary returns a typed Error instead of
// panicking, and the HTTP edge renders it as the documented
// {code, message, docs_url, request_id} envelope.
package apierr

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Code is one of the taxonomy buckets. Never retried unless noted.
type Code string

const (
	CodeBadRequest    Code = "BAD_REQUEST"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeOriginUnavail Code = "ORIGIN_UNAVAILABLE" // transient cluster failure (owner unreachable, request timed out)
	CodeInternal      Code = "INTERNAL_SERVER_ERROR"
)

var httpStatus = map[Code]int{
	CodeBadRequest:    http.StatusBadRequest,
	CodeUnauthorized:  http.StatusUnauthorized,
	CodeForbidden:     http.StatusForbidden,
	CodeNotFound:      http.StatusNotFound,
	CodeOriginUnavail: http.StatusServiceUnavailable,
	CodeInternal:      http.StatusInternalServerError,
}

const docsBaseURL = "https://docs.nodequota.dev/errors/"

// Error is the typed result value that crosses every subsystem boundary
// in place of a panic or a bare error string.
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	DocsURL   string `json:"docs_url"`
	RequestID string `json:"request_id"`
	Cause     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with a fresh request ID if one isn't already known
// for this call chain.
func New(code Code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		DocsURL:   docsBaseURL + string(code),
		RequestID: uuid.NewString(),
		Cause:     cause,
	}
}

// WithRequestID attaches a caller-supplied request ID (e.g. propagated
// from an inbound HTTP header) instead of minting a new one.
func (e *Error) WithRequestID(id string) *Error {
	if id != "" {
		e.RequestID = id
	}
	return e
}

// Status returns the HTTP status code for this error's taxonomy bucket.
func (e *Error) Status() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// As reports whether err (or something it wraps) is an *Error, per the
// standard errors.As contract used by callers that want the typed form.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// WriteJSON writes a 2xx success payload. Mirrors the handler convention
// of encoding straight to the response writer.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError renders an *Error as the documented failure envelope. The
// success/remaining/reset fields are never present alongside it.
func WriteError(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	_ = json.NewEncoder(w).Encode(e)
}
