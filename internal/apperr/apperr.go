package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	Validation     Kind = "validation"
	Authentication Kind = "authentication"
	Authorization  Kind = "authorization"
	NotFound       Kind = "not_found"
	Conflict       Kind = "conflict"
	AuthProvider   Kind = "auth_provider"
	Storage        Kind = "storage"
	Timeout        Kind = "timeout"
	Internal       Kind = "internal"
)

// Error is the structured failure returned by every core operation. Code is a
// stable snake_case identifier sent to clients; Message is human readable.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validationf(code, format string, args ...any) *Error {
	return New(Validation, code, fmt.Sprintf(format, args...))
}

func Unauthenticated(code, message string) *Error {
	return New(Authentication, code, message)
}

func Forbidden(code, message string) *Error {
	return New(Authorization, code, message)
}

func Missing(code, message string) *Error {
	return New(NotFound, code, message)
}

// KindOf reports the kind of err, or Internal for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// CodeOf reports the code of err, or "server_error" for errors outside the taxonomy.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "server_error"
}

func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
