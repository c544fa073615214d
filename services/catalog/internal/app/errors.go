package app

import (
	"errors"
	"fmt"

	"authorsapi/pkg/store"
)

// Kind classifies an Error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
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

// Error is returned by every App operation that fails. Message is safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the kind of err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf returns the client-facing message of err.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

var (
	ErrInvalidCredentials = &Error{Kind: KindUnauthorized, Message: "Incorrect email address or password"}
	ErrUnauthenticated    = &Error{Kind: KindUnauthorized, Message: "authentication required"}
	ErrNoImage            = &Error{Kind: KindNotFound, Message: "Book has no image"}
	ErrImagesDisabled     = &Error{Kind: KindBadRequest, Message: "image storage is not configured"}
)

func badRequest(format string, args ...any) error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

func forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func notFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func conflict(msg string) error {
	return &Error{Kind: KindConflict, Message: msg}
}

// internalError keeps the underlying message, which is surfaced to the client.
func internalError(err error) error {
	return &Error{Kind: KindInternal, Message: err.Error(), Err: err}
}

// fromStore maps errors coming out of a store call or transaction.
// Application errors raised inside the transaction pass through unchanged.
func fromStore(err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, store.ErrDuplicate) {
		return &Error{Kind: KindConflict, Message: "a record with the same unique value already exists", Err: err}
	}
	return internalError(err)
}
