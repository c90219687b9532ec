// Package errors defines the coded domain errors shared by the backends,
// the hooks and the HTTP layer.
//
// Adapters return typed errors:
//
//	return errors.Auth(errors.KindDuplicate, "User already registered")
//
// and callers match them with errors.Is against a sentinel. A sentinel with
// a Kind matches only that kind; one without matches the whole code:
//
//	errors.Is(err, errors.ErrDuplicate) // AUTH/duplicate only
//	errors.Is(err, errors.ErrAuth)      // any AUTH error
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard library helpers, re-exported so callers need one import.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

// Code is the machine-readable error category sent to clients.
type Code string

const (
	CodeAuth            Code = "AUTH"
	CodeProfileCreation Code = "PROFILE_CREATION"
	CodeFetch           Code = "FETCH"
	CodeNotFound        Code = "NOT_FOUND"
	CodeAlreadyExists   Code = "ALREADY_EXISTS"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeValidation      Code = "VALIDATION"
	CodeConflict        Code = "CONFLICT"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeInternal        Code = "INTERNAL"
)

// Kind refines an AUTH error.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindDuplicate          Kind = "duplicate"
	KindTransport          Kind = "transport"
	KindProvider           Kind = "provider"
)

var codeStatus = map[Code]int{
	CodeNotFound:      http.StatusNotFound,
	CodeAlreadyExists: http.StatusConflict,
	CodeConflict:      http.StatusConflict,
	CodeUnauthorized:  http.StatusUnauthorized,
	CodeForbidden:     http.StatusForbidden,
	CodeValidation:    http.StatusBadRequest,
	CodeRateLimited:   http.StatusTooManyRequests,
	CodeFetch:         http.StatusBadGateway,
}

var authKindStatus = map[Kind]int{
	KindInvalidCredentials: http.StatusUnauthorized,
	KindDuplicate:          http.StatusConflict,
	KindTransport:          http.StatusBadGateway,
}

// HTTPStatus maps c to a response status. Unlisted codes are 500.
func (c Code) HTTPStatus() int {
	if s, ok := codeStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a domain error. Details are sent to clients; the cause is not.
type Error struct {
	Code    Code   `json:"code"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error with the same Code, and the same Kind when the
// target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Kind == "" || t.Kind == e.Kind)
}

// HTTPStatus returns the response status. AUTH errors map by kind and
// default to 400.
func (e *Error) HTTPStatus() int {
	if e.Code != CodeAuth {
		return e.Code.HTTPStatus()
	}
	if s, ok := authKindStatus[e.Kind]; ok {
		return s
	}
	return http.StatusBadRequest
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	c := *e
	c.Details = details
	return &c
}

// WithCause returns a copy of e wrapping err.
func (e *Error) WithCause(err error) *Error {
	c := *e
	c.cause = err
	return &c
}

// Sentinels for errors.Is.
var (
	ErrAuth               = &Error{Code: CodeAuth, Message: "authentication failed"}
	ErrInvalidCredentials = &Error{Code: CodeAuth, Kind: KindInvalidCredentials, Message: "Invalid login credentials"}
	ErrDuplicate          = &Error{Code: CodeAuth, Kind: KindDuplicate, Message: "User already registered"}
	ErrAuthTransport      = &Error{Code: CodeAuth, Kind: KindTransport, Message: "auth service unreachable"}
	ErrProfileCreation    = &Error{Code: CodeProfileCreation, Message: "profile creation failed"}
	ErrFetch              = &Error{Code: CodeFetch, Message: "fetch failed"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrAlreadyExists      = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation error"}
	ErrConflict           = &Error{Code: CodeConflict, Message: "conflict"}
	ErrRateLimited        = &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "internal error"}
)

// Auth returns an AUTH error of the given kind.
func Auth(kind Kind, msg string) *Error {
	return &Error{Code: CodeAuth, Kind: kind, Message: msg}
}

// AuthTransport wraps a network failure talking to the auth provider.
func AuthTransport(err error) *Error {
	return ErrAuthTransport.WithCause(err)
}

// ProfileCreation wraps the store failure behind a sign-up whose profile
// row could not be written.
func ProfileCreation(err error) *Error {
	return &Error{Code: CodeProfileCreation, Message: "failed to create user profile", cause: err}
}

func coded(code Code) func(string) *Error {
	return func(msg string) *Error { return &Error{Code: code, Message: msg} }
}

func codedf(code Code) func(string, ...any) *Error {
	return func(format string, args ...any) *Error {
		return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
	}
}

// Constructors with a custom message, one per code.
var (
	Fetch         = coded(CodeFetch)
	Fetchf        = codedf(CodeFetch)
	NotFound      = coded(CodeNotFound)
	AlreadyExists = coded(CodeAlreadyExists)
	Unauthorized  = coded(CodeUnauthorized)
	Forbidden     = coded(CodeForbidden)
	Validation    = coded(CodeValidation)
	Validationf   = codedf(CodeValidation)
	Conflict      = coded(CodeConflict)
	Internal      = coded(CodeInternal)
	Internalf     = codedf(CodeInternal)
)

// ValidationWithDetails returns a VALIDATION error with per-field details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Wrap wraps err under code.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps err under code with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Message returns the user-facing text of err: a domain error's own message
// without its cause, or err.Error() for anything else.
func Message(err error) string {
	var e *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &e):
		return e.Message
	default:
		return err.Error()
	}
}

// CodeOf returns the code of err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
