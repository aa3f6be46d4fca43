// Package apperr defines the closed set of error kinds surfaced by the PKI
// core. Every failure leaving the ca, policy, repository, auth and service
// packages is either one of these kinds or an infrastructure error wrapped
// with fmt.Errorf.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	// ErrConfig means CA material is missing, unreadable or the key password is wrong.
	ErrConfig = errors.New("configuration error")
	// ErrValidation means the input (CSR, SAN, parameter) is malformed.
	ErrValidation = errors.New("validation error")
	// ErrAuthorization means a device token is missing or unknown while tokens are required.
	ErrAuthorization = errors.New("authorization error")
	// ErrSignature means the CSR self-signature does not verify.
	ErrSignature = errors.New("signature error")
	// ErrSigning means the underlying crypto failed during issuance.
	ErrSigning = errors.New("signing error")
	// ErrUnauthenticated means no valid admin session was presented.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrExpired means the admin session has expired.
	ErrExpired = errors.New("session expired")
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means an illegal state transition was attempted.
	ErrConflict = errors.New("conflict")
)

var kinds = []error{
	ErrConfig,
	ErrValidation,
	ErrAuthorization,
	ErrSignature,
	ErrSigning,
	ErrUnauthenticated,
	ErrExpired,
	ErrNotFound,
	ErrConflict,
}

// Error carries a kind, the operation that failed, a caller-facing message
// and an optional underlying cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an error of the given kind.
func New(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around cause.
func Wrap(kind error, op string, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of err, or nil for infrastructure errors.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Message returns the caller-facing part of err without the op prefix.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.Error()
	}
	return err.Error()
}

func Config(op string, cause error, format string, args ...any) error {
	return Wrap(ErrConfig, op, cause, format, args...)
}

func Validation(op, format string, args ...any) error {
	return New(ErrValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return New(ErrNotFound, op, format, args...)
}

func Conflict(op, format string, args ...any) error {
	return New(ErrConflict, op, format, args...)
}
