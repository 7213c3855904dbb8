// Package domainerrors carries the error taxonomy shared by the moderation
// core and its edges. Every error the core hands to a caller has a Code; the
// command façade renders user-facing codes back to the invoking actor and the
// ops HTTP layer maps codes to status codes.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers.
type Code string

const (
	// User input errors: reported to the actor, no state change.
	CodeInvalidInput Code = "invalid_input"
	CodeBadRequest   Code = "bad_request"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeForbidden    Code = "forbidden"

	// Infrastructure errors: logged and swallowed by the core.
	CodeUnavailable Code = "unavailable"
	CodeInternal    Code = "internal_error"

	// CodeInvariantViolation marks broken component contracts. The core
	// self-heals these rather than propagating them.
	CodeInvariantViolation Code = "invariant_violation"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
// Wrapping a nil error returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the outermost code in the chain, or CodeInternal for
// uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether any error in the chain carries the code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is reports whether the outermost coded error has the code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsUserError reports whether the error should be shown to the actor that
// caused it instead of being logged as a failure.
func IsUserError(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidInput, CodeBadRequest, CodeNotFound, CodeConflict, CodeForbidden:
		return true
	}
	return false
}

// MessageOf returns the message of the outermost coded error, or the plain
// error text for uncoded errors.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
