// Package errs defines the error kinds shared by the etherlink packages.
package errs

import (
	"errors"
	"fmt"
)

// Code represents a high-level error category
type Code string

const (
	CodeIncompatibleDevice Code = "incompatible device"
	CodeNoSpace            Code = "no space"
	CodeNoData             Code = "no data"
	CodeTransport          Code = "transport error"
	CodeConfig             Code = "config error"
	CodeInvalidParameters  Code = "invalid parameters"
	CodeInconsistentState  Code = "inconsistent descriptor state"
)

// Error is a structured etherlink error with operation and channel context.
type Error struct {
	Op      string // Operation that failed (e.g., "init_driver", "send_all")
	Channel string // Channel name ("h2t", "mgmt", ...), empty if not applicable
	Code    Code   // High-level error category
	Msg     string // Human-readable message
	Inner   error  // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	switch {
	case e.Op != "" && e.Channel != "":
		return fmt.Sprintf("etherlink: %s (op=%s, channel=%s)", msg, e.Op, e.Channel)
	case e.Op != "":
		return fmt.Sprintf("etherlink: %s (op=%s)", msg, e.Op)
	}
	return fmt.Sprintf("etherlink: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches any *Error carrying the same Code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return te.Op == "" && te.Channel == "" && e.Code == te.Code
}

// Sentinels for errors.Is. NoSpace and NoData are backpressure signals, not
// failures: callers poll again later.
var (
	ErrIncompatibleDevice = &Error{Code: CodeIncompatibleDevice}
	ErrNoSpace            = &Error{Code: CodeNoSpace}
	ErrNoData             = &Error{Code: CodeNoData}
	ErrTransport          = &Error{Code: CodeTransport}
	ErrConfig             = &Error{Code: CodeConfig}
	ErrInvalidParameters  = &Error{Code: CodeInvalidParameters}
	ErrInconsistentState  = &Error{Code: CodeInconsistentState}
)

// New creates a new structured error
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// Newf creates a new structured error with a formatted message
func Newf(op string, code Code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Msg: fmt.Sprintf(format, args...)}
}

// NewChannel creates a channel-specific error
func NewChannel(op, channel string, code Code, msg string) *Error {
	return &Error{Op: op, Channel: channel, Code: code, Msg: msg}
}

// Wrap wraps inner with etherlink context. Structured errors keep their code.
func Wrap(op string, code Code, inner error) *Error {
	if inner == nil {
		return nil
	}

	var ee *Error
	if errors.As(inner, &ee) {
		return &Error{
			Op:      op,
			Channel: ee.Channel,
			Code:    ee.Code,
			Msg:     ee.Msg,
			Inner:   ee.Inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  code,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code Code) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// IsBackpressure reports whether err only means "try again later".
func IsBackpressure(err error) bool {
	return IsCode(err, CodeNoSpace) || IsCode(err, CodeNoData)
}
