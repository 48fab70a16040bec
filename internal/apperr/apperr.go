// Package apperr defines the error taxonomy surfaced at the API boundary.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for the caller.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind to a response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is an error with an explicit kind, a stable code and a
// human-readable message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so callers can compare
// against the sentinels below regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Code != ""
}

// WithMessage returns a copy of e carrying msg.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// Coded sentinels. Compare with errors.Is.
var (
	ErrOutOfStock             = &Error{Kind: KindConflict, Code: "out_of_stock", Message: "book out of stock"}
	ErrDuplicateOpenRequest   = &Error{Kind: KindConflict, Code: "duplicate_open_request", Message: "you already have a pending or active borrow request for this book"}
	ErrInvalidStateTransition = &Error{Kind: KindConflict, Code: "invalid_state_transition", Message: "invalid state transition"}
	ErrDuplicateUser          = &Error{Kind: KindConflict, Code: "duplicate_user", Message: "username or email already registered"}
	ErrDuplicateISBN          = &Error{Kind: KindConflict, Code: "duplicate_isbn", Message: "book with this ISBN already exists"}
	ErrHasOpenTransactions    = &Error{Kind: KindConflict, Code: "has_open_transactions", Message: "record has open transactions"}
	ErrSelfTarget             = &Error{Kind: KindForbidden, Code: "self_target", Message: "cannot modify your own account"}
	ErrForbidden              = &Error{Kind: KindForbidden, Code: "forbidden", Message: "not enough permissions"}
	ErrUnauthorized           = &Error{Kind: KindUnauthorized, Code: "unauthorized", Message: "could not validate credentials"}
	ErrNotFound               = &Error{Kind: KindNotFound, Code: "not_found", Message: "not found"}
	ErrValidation             = &Error{Kind: KindValidation, Code: "validation", Message: "invalid request"}
)

// NotFound returns a not-found error naming the missing entity.
func NotFound(msg string) *Error {
	return ErrNotFound.WithMessage(msg)
}

// Validation returns a validation error with the given detail.
func Validation(msg string) *Error {
	return ErrValidation.WithMessage(msg)
}

// Forbidden returns a forbidden error with the given detail.
func Forbidden(msg string) *Error {
	return ErrForbidden.WithMessage(msg)
}

// Internal wraps an unexpected error.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal", Message: msg, Err: err}
}

// KindOf reports the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As extracts the *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
