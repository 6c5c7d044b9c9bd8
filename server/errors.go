package server

import (
	"errors"
	"fmt"
)

// ErrorCode classifies recoverable operation failures. Every code maps to a
// caller-facing condition; none of them should take down the driver tick.
type ErrorCode int

const (
	PermissionDenied ErrorCode = iota
	InvalidState
	NotFound
	DuplicateEntry
	ValidationError
)

func (c ErrorCode) String() string {
	switch c {
	case PermissionDenied:
		return "permission denied"
	case InvalidState:
		return "invalid state"
	case NotFound:
		return "not found"
	case DuplicateEntry:
		return "duplicate entry"
	case ValidationError:
		return "validation error"
	}
	return "unknown"
}

// Error is the error type returned by queue, match and rating operations.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.Message
}

func NewError(code ErrorCode, message string) error {
	return &Error{Code: code, Message: message}
}

func NewErrorf(code ErrorCode, format string, a ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...)}
}

// ErrorIsCode reports whether err is an *Error carrying the given code.
func ErrorIsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

var (
	ErrMatchNotFound  = NewError(NotFound, "match not found")
	ErrPlayerNotFound = NewError(NotFound, "player not found")
)
