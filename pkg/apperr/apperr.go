// Package apperr classifies workflow failures into the three categories the
// HTTP layer distinguishes: bad input, unauthorized, and everything else.
package apperr

import (
	"errors"
	"net/http"
	"strings"
)

// Kind is the failure category of an Error.
type Kind int

const (
	KindUnexpected Kind = iota
	KindValidation
	KindAuthorization
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	default:
		return "unexpected"
	}
}

// Error is the single error type returned by the subscription, confirmation
// and newsletter workflows. Message is safe to show to the caller for
// validation and authorization failures; Err carries the cause chain.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Validation wraps a malformed-input failure.
func Validation(err error) *Error {
	return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
}

// Authorization reports a well-formed but unauthorized request.
func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

// Unexpected wraps an infrastructure failure. The caller only ever sees the category.
func Unexpected(err error) *Error {
	return &Error{Kind: KindUnexpected, Message: "internal server error", Err: err}
}

// Error renders the whole cause chain, one cause per line.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	sb.WriteString(" error")
	if e.Kind != KindUnexpected && e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString("\ncaused by: ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Code is the machine-readable code written in JSON error bodies.
func (e *Error) Code() string {
	switch e.Kind {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindAuthorization:
		return "UNAUTHORIZED"
	default:
		return "INTERNAL_ERROR"
	}
}

// As extracts an *Error from err. Errors of any other type are treated as unexpected.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Unexpected(err)
}
