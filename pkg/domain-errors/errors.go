// Package domainerrors provides the coded error type used across the
// repository. Services attach a Code at the point of failure; transports map
// codes to their own status vocabulary without inspecting messages.
//
// Errors created here support errors.Is/errors.As through Unwrap, so
// sentinel errors survive wrapping:
//
//	err := dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "domain does not exist")
//	errors.Is(err, sentinel.ErrNotFound) // true
//	dErrors.HasCode(err, dErrors.CodeNotFound) // true
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for transport mapping and branching.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
)

// Error carries a code, a human-readable message, and an optional cause.
type Error struct {
	code  Code
	msg   string
	cause error
}

// New creates a coded error with no underlying cause.
func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Wrap attaches a code and message to an underlying error. A nil cause
// yields a plain coded error.
func Wrap(cause error, code Code, msg string) *Error {
	return &Error{code: code, msg: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

// Code returns the classification of this error.
func (e *Error) Code() Code {
	return e.code
}

// Message returns the message without the cause chain, suitable for
// surfacing to clients when the code permits it.
func (e *Error) Message() string {
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if errors.As(err, &de) {
			if de.code == code {
				return true
			}
			err = de.cause
			continue
		}
		return false
	}
	return false
}

// Is is a readable alias for HasCode at call sites that branch on codes.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error is uncoded.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}
