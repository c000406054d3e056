// Package apierror provides standardized error response structures for the API.
// All errors returned to clients go through this package to ensure consistency
// and to prevent leaking internal details (stack traces, DB errors, etc.).
//
// Services return *Error values carrying a Kind so that the handler layer can
// tell "not found" from "not yours" from "wrong state" without string matching.
package apierror

import (
	"errors"
	"net/http"
)

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
type APIError struct {
	Detail string `json:"detail"`
}

func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

// Validation wraps multiple field errors.
type ValidationError struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Detail: "validation failed", Fields: fields}
}

// Kind classifies a domain error.
type Kind int

const (
	KindBadRequest Kind = iota + 1
	KindNotFound
	KindForbidden
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a domain error with a client-safe message.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string { return e.Detail }

func BadRequest(msg string) error { return &Error{Kind: KindBadRequest, Detail: msg} }
func NotFound(msg string) error   { return &Error{Kind: KindNotFound, Detail: msg} }
func Forbidden(msg string) error  { return &Error{Kind: KindForbidden, Detail: msg} }
func Conflict(msg string) error   { return &Error{Kind: KindConflict, Detail: msg} }

// KindOf returns the Kind of err, or 0 when err is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err is a domain error of kind k.
func Is(err error, k Kind) bool { return KindOf(err) == k }

// StatusOf maps err to an HTTP status. Non-domain errors are 500.
func StatusOf(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
