// Package errs defines the error kinds shared by the template store,
// the dispatch pipeline and the provider senders.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies an error
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindUnsupportedDriver Kind = "unsupported_driver"
	KindInvalidTarget     Kind = "invalid_target"
	KindProviderRejected  Kind = "provider_rejected"
	KindTransport         Kind = "transport"
)

// Error is a classified error. Status and Body carry the provider response
// for ProviderRejected errors.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Body    string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

func UnsupportedDriver(driver string) *Error {
	return New(KindUnsupportedDriver, "unsupported driver %q", driver)
}

func InvalidTarget(format string, args ...any) *Error {
	return New(KindInvalidTarget, format, args...)
}

// Rejected reports a non-success answer from a provider
func Rejected(status int, body string, format string, args ...any) *Error {
	e := New(KindProviderRejected, format, args...)
	e.Status = status
	e.Body = body
	return e
}

func Transport(err error) *Error {
	return &Error{Kind: KindTransport, Err: err}
}

// KindOf returns the kind of err. Context cancellation and network errors
// are transport errors; anything unclassified returns "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransport
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransport
	}
	return ""
}

// Is reports whether err has the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
