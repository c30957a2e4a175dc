package kobj

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ehrlich-b/go-kobj/internal/status"
)

// Code is a kernel status code. OK is zero; failures are negative. Every
// user-triggered condition travels as a status; panics are reserved for
// kernel invariant violations.
type Code = status.Code

// Status codes.
const (
	OK = status.OK

	ErrInternal       = status.ErrInternal
	ErrNotSupported   = status.ErrNotSupported
	ErrNoMemory       = status.ErrNoMemory
	ErrInvalidArgs    = status.ErrInvalidArgs
	ErrBadHandle      = status.ErrBadHandle
	ErrWrongType      = status.ErrWrongType
	ErrBadState       = status.ErrBadState
	ErrTimedOut       = status.ErrTimedOut
	ErrShouldWait     = status.ErrShouldWait
	ErrOutOfRange     = status.ErrOutOfRange
	ErrBufferTooSmall = status.ErrBufferTooSmall
	ErrNotFound       = status.ErrNotFound
	ErrAlreadyBound   = status.ErrAlreadyBound
	ErrAccessDenied   = status.ErrAccessDenied
	ErrChannelClosed  = status.ErrChannelClosed
	ErrInterrupted    = status.ErrInterrupted
	ErrCanceled       = status.ErrCanceled
)

// Error is a structured kernel error with operation context.
type Error struct {
	Op     string // Operation that failed (e.g., "msgpipe_write")
	Proc   uint64 // Calling process koid (0 if not applicable)
	Handle uint32 // Handle value involved (0 if not applicable)
	Code   Code   // Status code
	Msg    string // Human-readable message
	Inner  error  // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Proc != 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", e.Proc))
	}
	if e.Handle != 0 {
		parts = append(parts, fmt.Sprintf("handle=%#x", e.Handle))
	}

	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if len(parts) > 0 {
		return fmt.Sprintf("kobj: %s (%s)", msg, strings.Join(parts, " "))
	}
	return fmt.Sprintf("kobj: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	if e.Inner != nil {
		return e.Inner
	}
	return e.Code
}

// Is matches either another structured Error or a bare Code.
func (e *Error) Is(target error) bool {
	if c, ok := target.(Code); ok {
		return e.Code == c
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// Error constructors

// NewError creates a new structured error
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewHandleError creates an error tied to a specific handle value
func NewHandleError(op string, proc uint64, handle uint32, code Code) *Error {
	return &Error{Op: op, Proc: proc, Handle: handle, Code: code}
}

// WrapError wraps an existing error with kernel operation context
func WrapError(op string, proc uint64, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ke, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			Proc:   proc,
			Handle: ke.Handle,
			Code:   ke.Code,
			Msg:    ke.Msg,
			Inner:  ke.Inner,
		}
	}
	if c, ok := inner.(Code); ok {
		return &Error{Op: op, Proc: proc, Code: c, Inner: inner}
	}
	return &Error{Op: op, Proc: proc, Code: ErrInternal, Msg: inner.Error(), Inner: inner}
}

// IsCode checks whether err carries the given status code
func IsCode(err error, code Code) bool {
	return errors.Is(err, code)
}

// GetCode extracts the status code from err, or ErrInternal for foreign
// errors.
func GetCode(err error) Code {
	if err == nil {
		return OK
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrInternal
}
